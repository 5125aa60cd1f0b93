package fetcher

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrNotRepositoryURL is returned for URLs that name no repository, such as
// an organization page.
var ErrNotRepositoryURL = errors.New("not a repository URL")

// ParseRepoURL extracts owner and repository from a GitHub URL. It accepts
// https://github.com/owner/repo with an optional ".git" suffix, trailing
// slash or deeper path (tree/branch/...), and the scheme-less form.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", "", fmt.Errorf("%w: empty", ErrNotRepositoryURL)
	}
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return "", "", fmt.Errorf("invalid repository URL %q: %w", raw, err)
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "github.com" {
		return "", "", fmt.Errorf("%w: %q is not a github.com URL", ErrNotRepositoryURL, raw)
	}

	parts := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })
	if len(parts) < 2 || parts[0] == "orgs" {
		return "", "", fmt.Errorf("%w: %q", ErrNotRepositoryURL, raw)
	}

	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" {
		return "", "", fmt.Errorf("%w: %q", ErrNotRepositoryURL, raw)
	}
	return owner, repo, nil
}
