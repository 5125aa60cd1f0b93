package acquirer

import (
	"context"
	"errors"
	"sort"
	"strings"

	"docharvest/pkg/cancel"
	errs "docharvest/pkg/errors"

	gh "github.com/google/go-github/v80/github"
)

// ScanStrategy selects how a repository tree is enumerated.
type ScanStrategy int

const (
	// Structured lists the whole tree up to the depth bound.
	Structured ScanStrategy = iota
	// RecursiveWalk lists the root and then only relevant subtrees.
	RecursiveWalk
)

func (s ScanStrategy) String() string {
	switch s {
	case Structured:
		return "structured"
	case RecursiveWalk:
		return "recursive_walk"
	default:
		return "unknown"
	}
}

// FileEntry is file metadata recorded during a scan.
type FileEntry struct {
	Name        string `json:"name"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	SHA         string `json:"sha"`
	DownloadURL string `json:"download_url,omitempty"`
}

// Node is one directory of a scanned tree.
type Node struct {
	Dirs     []string         `json:"dirs,omitempty"`
	Files    []FileEntry      `json:"files,omitempty"`
	Children map[string]*Node `json:"children,omitempty"`
}

func newNode() *Node {
	return &Node{Children: make(map[string]*Node)}
}

// Lookup walks a slash-separated path from n.
func (n *Node) Lookup(p string) (*Node, bool) {
	cur := n
	if p == "" {
		return cur, true
	}
	for _, part := range strings.Split(p, "/") {
		next, ok := cur.Children[part]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (n *Node) child(name string) *Node {
	c, ok := n.Children[name]
	if !ok {
		c = newNode()
		n.Children[name] = c
	}
	return c
}

// ScanResult is the metadata-only view of one repository.
type ScanResult struct {
	Owner         string       `json:"owner"`
	Repo          string       `json:"repo"`
	Ref           string       `json:"ref"`
	Strategy      ScanStrategy `json:"strategy"`
	RelevantPaths []string     `json:"relevant_paths"`
	TotalFiles    int          `json:"total_files"`
	RelevantFiles int          `json:"relevant_files"`
	Structure     *Node        `json:"structure"`
}

// Source is the slice of the GitHub client the acquirer needs.
type Source interface {
	DefaultBranch(ctx context.Context, owner, repo string) (string, error)
	Contents(ctx context.Context, owner, repo, path, ref string) (*gh.RepositoryContent, []*gh.RepositoryContent, error)
	FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error)
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

type scanner struct {
	source Source
	filter Filter
	token  *cancel.Token
	result *ScanResult
	a      *Acquirer
}

// Scan runs a structured scan of owner/repo at ref.
func (a *Acquirer) Scan(ctx context.Context, owner, repo, ref string, filter Filter) (*ScanResult, error) {
	return a.ScanWith(ctx, Structured, owner, repo, ref, filter, nil)
}

// ScanRepository runs a structured scan and falls back to a recursive walk
// when the structured scan fails. A failing fallback is returned as is, and a
// repository that does not exist is not walked at all.
func (a *Acquirer) ScanRepository(ctx context.Context, owner, repo, ref string, filter Filter, token *cancel.Token) (*ScanResult, error) {
	scan, err := a.ScanWith(ctx, Structured, owner, repo, ref, filter, token)
	var scanErr *errs.ScanError
	if errors.As(err, &scanErr) && !errs.IsNotFound(err) {
		a.logger.WithError(err).WithField("repo", owner+"/"+repo).Warn("Structured scan failed, falling back to recursive walk")
		scan, err = a.ScanWith(ctx, RecursiveWalk, owner, repo, ref, filter, token)
	}
	return scan, err
}

// ScanWith runs the given strategy. A failure to list the root is always a
// *errors.ScanError. Under RecursiveWalk any listing failure is.
func (a *Acquirer) ScanWith(ctx context.Context, strategy ScanStrategy, owner, repo, ref string, filter Filter, token *cancel.Token) (*ScanResult, error) {
	s := &scanner{
		source: a.source,
		filter: filter,
		token:  token,
		a:      a,
		result: &ScanResult{
			Owner:         owner,
			Repo:          repo,
			Ref:           ref,
			Strategy:      strategy,
			RelevantPaths: []string{},
			Structure:     newNode(),
		},
	}

	a.logger.InfoWithFields("Scanning repository structure", map[string]interface{}{
		"repo":     owner + "/" + repo,
		"ref":      ref,
		"strategy": strategy.String(),
	})

	var err error
	switch strategy {
	case RecursiveWalk:
		err = s.walk(ctx, "", s.result.Structure, filter.maxDepth())
	default:
		err = s.structured(ctx, "", s.result.Structure, filter.maxDepth())
	}
	if err != nil {
		return nil, err
	}

	sort.Strings(s.result.RelevantPaths)
	a.logger.InfoWithFields("Scanned repository structure", map[string]interface{}{
		"repo":           owner + "/" + repo,
		"total_files":    s.result.TotalFiles,
		"relevant_files": s.result.RelevantFiles,
		"relevant_paths": len(s.result.RelevantPaths),
	})
	return s.result, nil
}

func (s *scanner) list(ctx context.Context, dir string) ([]*gh.RepositoryContent, error) {
	file, entries, err := s.source.Contents(ctx, s.result.Owner, s.result.Repo, dir, s.result.Ref)
	if err != nil {
		return nil, &errs.ScanError{Target: s.result.Owner + "/" + s.result.Repo, Path: dir, Err: err}
	}
	if file != nil {
		return nil, nil
	}
	return entries, nil
}

// record stores the entries of dir in node and returns the subdirectories
// that may be descended into.
func (s *scanner) record(dir string, node *Node, entries []*gh.RepositoryContent) []string {
	relevant := s.filter.IsRelevantPath(dir)
	if relevant {
		s.result.RelevantPaths = append(s.result.RelevantPaths, dir)
	}

	var subdirs []string
	for _, item := range entries {
		s.result.TotalFiles++
		switch item.GetType() {
		case "dir":
			if s.filter.IsIgnoredDir(item.GetName()) {
				continue
			}
			node.Dirs = append(node.Dirs, item.GetName())
			subdirs = append(subdirs, item.GetName())
		case "file":
			entry := FileEntry{
				Name:        item.GetName(),
				Path:        item.GetPath(),
				Size:        int64(item.GetSize()),
				SHA:         item.GetSHA(),
				DownloadURL: item.GetDownloadURL(),
			}
			node.Files = append(node.Files, entry)
			if relevant && s.filter.IsEligibleFile(entry.Name, entry.Size) {
				s.result.RelevantFiles++
			}
		}
	}
	return subdirs
}

func (s *scanner) structured(ctx context.Context, dir string, node *Node, depth int) error {
	if depth <= 0 || cancel.Cancelled(ctx, s.token) {
		return nil
	}

	entries, err := s.list(ctx, dir)
	if err != nil {
		if dir == "" {
			return err
		}
		s.a.logger.WarnWithFields("Error scanning directory", map[string]interface{}{
			"path":  dir,
			"error": err.Error(),
		})
		return nil
	}

	for _, name := range s.record(dir, node, entries) {
		if err := s.structured(ctx, joinPath(dir, name), node.child(name), depth-1); err != nil {
			return err
		}
	}
	return nil
}

func (s *scanner) walk(ctx context.Context, dir string, node *Node, depth int) error {
	if depth <= 0 || cancel.Cancelled(ctx, s.token) {
		return nil
	}

	entries, err := s.list(ctx, dir)
	if err != nil {
		return err
	}

	for _, name := range s.record(dir, node, entries) {
		sub := joinPath(dir, name)
		if !s.filter.IsRelevantPath(sub) {
			continue
		}
		if err := s.walk(ctx, sub, node.child(name), depth-1); err != nil {
			return err
		}
	}
	return nil
}

func joinPath(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}
