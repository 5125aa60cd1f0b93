// Package fakegithub is an in-memory stand-in for the GitHub client used by
// acquisition and orchestration tests.
package fakegithub

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	errs "docharvest/pkg/errors"

	gh "github.com/google/go-github/v80/github"
)

const urlScheme = "mem://"

// Repo is one in-memory repository.
type Repo struct {
	Owner         string
	Name          string
	DefaultBranch string
	gone          bool
	files         map[string][]byte
	sizes         map[string]int
}

// AddFile stores content at a slash-separated path.
func (r *Repo) AddFile(path, content string) *Repo {
	r.files[path] = []byte(content)
	r.sizes[path] = len(content)
	return r
}

// AddSizedFile stores a file that reports size without holding the bytes.
func (r *Repo) AddSizedFile(path string, size int) *Repo {
	r.files[path] = nil
	r.sizes[path] = size
	return r
}

// Server fakes the subset of the GitHub API the pipeline calls.
type Server struct {
	mu           sync.Mutex
	repos        map[string]*Repo
	orgs         map[string][]string
	calls        map[string]int
	failContents map[string]int
	failDownload map[string]int
	branchErr    error
	listed       []string

	// OnDownload runs before every download, outside the lock.
	OnDownload func(path string)
}

// New creates an empty server.
func New() *Server {
	return &Server{
		repos:        make(map[string]*Repo),
		orgs:         make(map[string][]string),
		calls:        make(map[string]int),
		failContents: make(map[string]int),
		failDownload: make(map[string]int),
	}
}

// AddRepo registers owner/name. The owner also becomes an organization.
func (s *Server) AddRepo(owner, name string) *Repo {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &Repo{
		Owner:         owner,
		Name:          name,
		DefaultBranch: "main",
		files:         make(map[string][]byte),
		sizes:         make(map[string]int),
	}
	s.repos[owner+"/"+name] = r
	s.orgs[owner] = append(s.orgs[owner], name)
	return r
}

// AddOrg registers an organization without repositories.
func (s *Server) AddOrg(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[name]; !ok {
		s.orgs[name] = []string{}
	}
}

// RemoveRepo makes owner/name answer 404 while its organization still lists
// it, as GitHub does for a repository deleted between listing and scanning.
func (s *Server) RemoveRepo(owner, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.repos[owner+"/"+name]; ok {
		r.gone = true
	}
}

// FailContents makes the next n listings of path fail. n < 0 fails forever.
func (s *Server) FailContents(owner, repo, path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failContents[owner+"/"+repo+":"+path] = n
}

// FailDownload makes the next n downloads of path fail. n < 0 fails forever.
func (s *Server) FailDownload(owner, repo, path string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failDownload[owner+"/"+repo+":"+path] = n
}

// FailDefaultBranch makes DefaultBranch return err.
func (s *Server) FailDefaultBranch(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.branchErr = err
}

// Calls returns how often an operation ran: "contents", "download",
// "branch", "repos" or "org".
func (s *Server) Calls(kind string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[kind]
}

// Listed returns every "owner/repo:path" passed to Contents, in call order.
func (s *Server) Listed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.listed...)
}

// TotalCalls sums every recorded call.
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += c
	}
	return n
}

func (s *Server) shouldFail(m map[string]int, key string) bool {
	n, ok := m[key]
	if !ok || n == 0 {
		return false
	}
	if n > 0 {
		m[key] = n - 1
	}
	return true
}

func (s *Server) repo(owner, name string) (*Repo, error) {
	r, ok := s.repos[owner+"/"+name]
	if !ok || r.gone {
		return nil, errs.NewAPIError(404, "repos/"+owner+"/"+name, "Not Found")
	}
	return r, nil
}

// DefaultBranch returns the repository default branch.
func (s *Server) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["branch"]++
	if s.branchErr != nil {
		return "", s.branchErr
	}
	r, err := s.repo(owner, repo)
	if err != nil {
		return "", err
	}
	return r.DefaultBranch, nil
}

// Organization returns org metadata.
func (s *Server) Organization(ctx context.Context, org string) (*gh.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["org"]++
	names, ok := s.orgs[org]
	if !ok {
		return nil, errs.NewAPIError(404, "orgs/"+org, "Not Found")
	}
	return &gh.Organization{Login: gh.Ptr(org), PublicRepos: gh.Ptr(len(names))}, nil
}

// ListOrgRepos pages through an organization's repositories.
func (s *Server) ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]*gh.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["repos"]++
	names := append([]string(nil), s.orgs[org]...)
	sort.Strings(names)

	start := (page - 1) * perPage
	if start >= len(names) {
		return nil, nil
	}
	end := start + perPage
	if end > len(names) {
		end = len(names)
	}
	var out []*gh.Repository
	for _, n := range names[start:end] {
		r := s.repos[org+"/"+n]
		out = append(out, &gh.Repository{
			Name:          gh.Ptr(n),
			FullName:      gh.Ptr(org + "/" + n),
			DefaultBranch: gh.Ptr(r.DefaultBranch),
			Owner:         &gh.User{Login: gh.Ptr(org)},
		})
	}
	return out, nil
}

// Repository returns repository metadata.
func (s *Server) Repository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["repo"]++
	r, err := s.repo(owner, repo)
	if err != nil {
		return nil, err
	}
	return &gh.Repository{
		Name:          gh.Ptr(r.Name),
		FullName:      gh.Ptr(owner + "/" + repo),
		DefaultBranch: gh.Ptr(r.DefaultBranch),
		Owner:         &gh.User{Login: gh.Ptr(owner)},
	}, nil
}

// Contents lists a directory or describes a file.
func (s *Server) Contents(ctx context.Context, owner, repo, path, ref string) (*gh.RepositoryContent, []*gh.RepositoryContent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["contents"]++
	s.listed = append(s.listed, owner+"/"+repo+":"+path)
	if s.shouldFail(s.failContents, owner+"/"+repo+":"+path) {
		return nil, nil, errs.NewAPIError(502, "repos/"+owner+"/"+repo+"/contents/"+path, "Bad Gateway")
	}
	r, err := s.repo(owner, repo)
	if err != nil {
		return nil, nil, err
	}
	if _, ok := r.sizes[path]; ok {
		return r.entry(path, "file"), nil, nil
	}

	prefix := ""
	if path != "" {
		prefix = path + "/"
	}
	seen := make(map[string]bool)
	var out []*gh.RepositoryContent
	for p := range r.sizes {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		name, _, isDir := strings.Cut(rest, "/")
		if seen[name] {
			continue
		}
		seen[name] = true
		if isDir {
			out = append(out, r.entry(prefix+name, "dir"))
		} else {
			out = append(out, r.entry(p, "file"))
		}
	}
	if len(out) == 0 && path != "" {
		return nil, nil, errs.NewAPIError(404, "repos/"+owner+"/"+repo+"/contents/"+path, "Not Found")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return nil, out, nil
}

func (r *Repo) entry(path, kind string) *gh.RepositoryContent {
	name := path[strings.LastIndex(path, "/")+1:]
	c := &gh.RepositoryContent{
		Type: gh.Ptr(kind),
		Name: gh.Ptr(name),
		Path: gh.Ptr(path),
		SHA:  gh.Ptr(fmt.Sprintf("sha-%s", path)),
	}
	if kind == "file" {
		c.Size = gh.Ptr(r.sizes[path])
		c.DownloadURL = gh.Ptr(urlScheme + r.Owner + "/" + r.Name + "/" + path)
	}
	return c
}

// FileContent returns the body stored at path.
func (s *Server) FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	return s.download(owner, repo, path)
}

// Download resolves a mem:// URL produced by Contents.
func (s *Server) Download(ctx context.Context, rawURL string) ([]byte, error) {
	rest, ok := strings.CutPrefix(rawURL, urlScheme)
	if !ok {
		return nil, fmt.Errorf("unsupported url %q", rawURL)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed url %q", rawURL)
	}
	return s.download(parts[0], parts[1], parts[2])
}

func (s *Server) download(owner, repo, path string) ([]byte, error) {
	if s.OnDownload != nil {
		s.OnDownload(path)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["download"]++
	if s.shouldFail(s.failDownload, owner+"/"+repo+":"+path) {
		return nil, errs.NewAPIError(503, path, "Service Unavailable")
	}
	r, err := s.repo(owner, repo)
	if err != nil {
		return nil, err
	}
	data, ok := r.files[path]
	if !ok {
		return nil, errs.NewAPIError(404, path, "Not Found")
	}
	return append([]byte(nil), data...), nil
}
