package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	errs "docharvest/pkg/errors"

	gh "github.com/google/go-github/v80/github"
)

// Organization fetches organization metadata.
func (c *Client) Organization(ctx context.Context, org string) (*gh.Organization, error) {
	var out gh.Organization
	if err := c.Get(ctx, "orgs/"+org, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListOrgRepos fetches one page of an organization's repositories.
func (c *Client) ListOrgRepos(ctx context.Context, org string, page, perPage int) ([]*gh.Repository, error) {
	params := url.Values{}
	params.Set("page", strconv.Itoa(page))
	params.Set("per_page", strconv.Itoa(perPage))

	var out []*gh.Repository
	if err := c.Get(ctx, "orgs/"+org+"/repos", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Repository fetches repository metadata.
func (c *Client) Repository(ctx context.Context, owner, repo string) (*gh.Repository, error) {
	var out gh.Repository
	if err := c.Get(ctx, fmt.Sprintf("repos/%s/%s", owner, repo), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Contents lists a directory or describes a single file. Exactly one of the
// two results is non-nil on success.
func (c *Client) Contents(ctx context.Context, owner, repo, path, ref string) (*gh.RepositoryContent, []*gh.RepositoryContent, error) {
	var params url.Values
	if ref != "" {
		params = url.Values{"ref": []string{ref}}
	}

	endpoint := fmt.Sprintf("repos/%s/%s/contents/%s", owner, repo, strings.Trim(path, "/"))
	var raw json.RawMessage
	if err := c.Get(ctx, endpoint, params, &raw); err != nil {
		return nil, nil, err
	}

	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '[' {
		var dir []*gh.RepositoryContent
		if err := json.Unmarshal(trimmed, &dir); err != nil {
			return nil, nil, parseError(endpoint, err)
		}
		return nil, dir, nil
	}

	var file gh.RepositoryContent
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, parseError(endpoint, err)
	}
	return &file, nil, nil
}

// FileContent resolves a file's download URL and fetches its raw bytes.
func (c *Client) FileContent(ctx context.Context, owner, repo, path, ref string) ([]byte, error) {
	file, _, err := c.Contents(ctx, owner, repo, path, ref)
	if err != nil {
		return nil, err
	}
	if file == nil || file.GetDownloadURL() == "" {
		return nil, &errs.APIError{
			Type:     errs.ErrorTypeParsing,
			Message:  fmt.Sprintf("unexpected content data format for %s", path),
			Endpoint: path,
		}
	}
	return c.Download(ctx, file.GetDownloadURL())
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context, owner, repo string) (string, error) {
	r, err := c.Repository(ctx, owner, repo)
	if err != nil {
		return "", err
	}
	if r.GetDefaultBranch() == "" {
		return "", &errs.APIError{
			Type:     errs.ErrorTypeParsing,
			Message:  "repository has no default branch",
			Endpoint: fmt.Sprintf("repos/%s/%s", owner, repo),
		}
	}
	return r.GetDefaultBranch(), nil
}

// VerifyCredentials makes a lightweight call. With a token it returns the
// authenticated login; without one it checks that the API is reachable.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	if c.authed {
		var user gh.User
		if err := c.Get(ctx, "user", nil, &user); err != nil {
			return "", err
		}
		c.logger.InfoWithFields("Authenticated with GitHub API", map[string]interface{}{
			"login": user.GetLogin(),
		})
		return user.GetLogin(), nil
	}

	if err := c.Get(ctx, "rate_limit", nil, nil); err != nil {
		return "", err
	}
	c.logger.Info("Connected to GitHub API (unauthenticated)")
	return "", nil
}

func parseError(endpoint string, err error) error {
	return &errs.APIError{
		Type:     errs.ErrorTypeParsing,
		Message:  fmt.Sprintf("malformed response: %v", err),
		Endpoint: endpoint,
	}
}
