package vcs

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	gh "github.com/google/go-github/v80/github"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"repo-rag/internal/models"
)

const (
	defaultTimeout = 30 * time.Second
	// proactiveRate keeps well under the authenticated 5000 requests/hour.
	proactiveRate = 1.2
)

// GitHubClient answers metadata questions the local clone cannot.
type GitHubClient struct {
	gh      *gh.Client
	limiter *rate.Limiter
}

// NewGitHubClient authenticates with token when set. baseURL overrides the REST
// endpoint, e.g. for GitHub Enterprise.
func NewGitHubClient(ctx context.Context, token, baseURL string) (*GitHubClient, error) {
	httpClient := &http.Client{Timeout: defaultTimeout}
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(ctx, ts)
		httpClient.Timeout = defaultTimeout
	}

	client := gh.NewClient(httpClient)
	if baseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(baseURL, "/") + "/")
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "github base url", err)
		}
		client.BaseURL = u
	}
	return &GitHubClient{
		gh:      client,
		limiter: rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}, nil
}

// DefaultBranch returns the repository's default branch name.
func (c *GitHubClient) DefaultBranch(ctx context.Context, repo string) (string, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return "", err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	r, _, err := c.gh.Repositories.Get(ctx, owner, name)
	if err != nil {
		return "", fmt.Errorf("get repo %s: %w", repo, err)
	}
	return r.GetDefaultBranch(), nil
}

// LastCommit returns the most recent commit touching path.
func (c *GitHubClient) LastCommit(ctx context.Context, repo, path string) (models.Provenance, error) {
	owner, name, err := splitRepo(repo)
	if err != nil {
		return models.Provenance{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return models.Provenance{}, fmt.Errorf("rate limit wait: %w", err)
	}

	commits, _, err := c.gh.Repositories.ListCommits(ctx, owner, name, &gh.CommitsListOptions{
		Path:        path,
		ListOptions: gh.ListOptions{PerPage: 1},
	})
	if err != nil {
		return models.Provenance{}, fmt.Errorf("list commits %s/%s: %w", repo, path, err)
	}
	if len(commits) == 0 {
		return models.Provenance{}, fmt.Errorf("no commits for %s/%s", repo, path)
	}

	author := commits[0].GetCommit().GetAuthor()
	prov := models.Provenance{
		CommitHash: commits[0].GetSHA(),
		Author:     formatAuthor(author.GetName(), author.GetEmail()),
	}
	if d := author.GetDate(); !d.IsZero() {
		prov.CommitDate = d.UTC().Format(time.RFC3339)
	}
	return prov, nil
}

func splitRepo(repo string) (string, string, error) {
	owner, name, ok := strings.Cut(repo, "/")
	if !ok || owner == "" || name == "" {
		return "", "", models.NewError(models.ErrConfiguration, "parse repo", fmt.Errorf("repository %q is not owner/name", repo))
	}
	return owner, name, nil
}

func formatAuthor(name, email string) string {
	if email == "" {
		return name
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
