// Package vcs keeps local clones of the configured repositories and reports
// per-file commit provenance.
package vcs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"repo-rag/internal/config"
	"repo-rag/internal/models"
)

// SyncResult describes the local state of one repository after Sync.
type SyncResult struct {
	Path    string
	Head    string
	Branch  string
	Changed bool
}

type Syncer struct {
	cloneDir string
	token    string
	filter   FileFilter
	remote   *GitHubClient
	// RemoteURL builds the clone URL for owner/name.
	RemoteURL func(repo string) string
	now       func() time.Time
}

func NewSyncer(cloneDir, token string, filter FileFilter, remote *GitHubClient) *Syncer {
	s := &Syncer{
		cloneDir: cloneDir,
		token:    token,
		filter:   filter,
		remote:   remote,
		now:      time.Now,
	}
	s.RemoteURL = s.githubURL
	return s
}

// NewSyncerFromConfig wires the git syncer and GitHub API client from cfg.
func NewSyncerFromConfig(ctx context.Context, cfg config.GitHubConfig) (*Syncer, error) {
	remote, err := NewGitHubClient(ctx, cfg.Token, cfg.APIBaseURL)
	if err != nil {
		return nil, err
	}
	filter := FileFilter{
		Extensions: cfg.Extensions,
		Excluded:   cfg.ExcludedPatterns,
		MaxBytes:   int64(cfg.MaxFileSizeMB) * 1024 * 1024,
	}
	return NewSyncer(cfg.CloneDir, cfg.Token, filter, remote), nil
}

func (s *Syncer) githubURL(repo string) string {
	if s.token == "" {
		return fmt.Sprintf("https://github.com/%s.git", repo)
	}
	return fmt.Sprintf("https://x-access-token:%s@github.com/%s.git", s.token, repo)
}

// LocalPath is where repo is cloned.
func (s *Syncer) LocalPath(repo string) string {
	return filepath.Join(s.cloneDir, strings.ReplaceAll(repo, "/", "_"))
}

// Sync clones repo when absent and pulls it otherwise. Changed is true when HEAD
// moved or the clone is new.
func (s *Syncer) Sync(ctx context.Context, repo string) (SyncResult, error) {
	path := s.LocalPath(repo)
	if err := os.MkdirAll(s.cloneDir, 0o755); err != nil {
		return SyncResult{}, models.NewError(models.ErrSync, "create clone dir", err)
	}

	res := SyncResult{Path: path}
	if _, err := os.Stat(filepath.Join(path, ".git")); err == nil {
		before, err := runGit(ctx, s.token, "-C", path, "rev-parse", "HEAD")
		if err != nil {
			return res, models.NewError(models.ErrSync, "read head", err)
		}
		log.Info().Str("repo", repo).Str("path", path).Msg("Pulling repository")
		if _, err := runGit(ctx, s.token, "-C", path, "pull", "--ff-only"); err != nil {
			return res, models.NewRetryableError(models.ErrSync, "pull "+repo, err)
		}
		res.Head, err = runGit(ctx, s.token, "-C", path, "rev-parse", "HEAD")
		if err != nil {
			return res, models.NewError(models.ErrSync, "read head", err)
		}
		res.Changed = before != res.Head
		if res.Changed {
			log.Info().Str("repo", repo).Str("before", short(before)).Str("after", short(res.Head)).Msg("Repository updated")
		} else {
			log.Info().Str("repo", repo).Msg("Repository already up to date")
		}
	} else {
		log.Info().Str("repo", repo).Msg("Cloning repository")
		if _, err := runGit(ctx, s.token, "clone", "--depth", "1", s.RemoteURL(repo), path); err != nil {
			return res, models.NewRetryableError(models.ErrSync, "clone "+repo, err)
		}
		res.Head, err = runGit(ctx, s.token, "-C", path, "rev-parse", "HEAD")
		if err != nil {
			return res, models.NewError(models.ErrSync, "read head", err)
		}
		res.Changed = true
	}

	res.Branch = s.branch(ctx, repo, path)
	return res, nil
}

func (s *Syncer) branch(ctx context.Context, repo, path string) string {
	if b, err := runGit(ctx, s.token, "-C", path, "rev-parse", "--abbrev-ref", "HEAD"); err == nil && b != "HEAD" {
		return b
	}
	if s.remote != nil {
		if b, err := s.remote.DefaultBranch(ctx, repo); err == nil && b != "" {
			return b
		}
	}
	return "main"
}

// ListFiles walks root and returns slash-separated paths relative to it that pass
// the extension, exclusion and size filters, sorted.
func (s *Syncer) ListFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || s.filter.IsExcluded(rel) || !s.filter.HasExtension(rel) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if s.filter.TooLarge(info.Size()) {
			log.Warn().Str("file", rel).Float64("size_mb", float64(info.Size())/(1024*1024)).Msg("File too large, skipping")
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, models.NewError(models.ErrSync, "list files", err)
	}
	sort.Strings(files)
	return files, nil
}

// FileProvenance reports the last commit touching rel. It tries the local clone,
// then the GitHub API, and finally returns the unknown sentinel. It never fails.
func (s *Syncer) FileProvenance(ctx context.Context, repo, root, rel string) models.Provenance {
	out, err := runGit(ctx, s.token, "-C", root, "log", "-1", "--format=%H|%ad|%an|%ae", "--date=iso-strict", "--", rel)
	if err == nil {
		var prov models.Provenance
		if out == "" {
			err = errors.New("no local history")
		} else if prov, err = parseLogLine(out); err == nil {
			return prov
		}
	}

	if s.remote != nil {
		prov, rerr := s.remote.LastCommit(ctx, repo, rel)
		if rerr == nil {
			return prov
		}
		err = errors.Join(err, rerr)
	}

	log.Warn().Err(err).Str("repo", repo).Str("file", rel).Msg("Failed to get file metadata")
	return models.UnknownProvenance(s.now())
}

func parseLogLine(line string) (models.Provenance, error) {
	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return models.Provenance{}, fmt.Errorf("unexpected git log output %q", line)
	}
	date, err := time.Parse(time.RFC3339, parts[1])
	if err != nil {
		return models.Provenance{}, fmt.Errorf("parse commit date: %w", err)
	}
	return models.Provenance{
		CommitHash: parts[0],
		CommitDate: date.UTC().Format(time.RFC3339),
		Author:     formatAuthor(parts[2], parts[3]),
	}, nil
}

func short(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
