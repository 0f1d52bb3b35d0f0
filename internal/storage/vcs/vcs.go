// Package vcs keeps an optional git history of canvas files, using go-git
// so no git binary is required. A nil Log disables versioning entirely;
// callers log commit failures and carry on, a save never depends on one.
package vcs

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// Commit is one entry in a file's history.
type Commit struct {
	Hash    string    `json:"hash"`
	Subject string    `json:"subject"`
	Body    string    `json:"body,omitempty"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	When    time.Time `json:"when"`
}

// Log records canvas changes and answers history queries.
type Log interface {
	// Commit stages the named paths, relative to the log root, and commits
	// them. A clean worktree commits nothing and returns nil.
	Commit(ctx context.Context, msg string, paths []string) error
	// History returns up to n commits touching path, newest first.
	// An empty path means the whole tree.
	History(ctx context.Context, path string, n int) ([]Commit, error)
	// FileAt returns the content of path at the given revision; "HEAD"
	// resolves to the current head.
	FileAt(ctx context.Context, rev, path string) ([]byte, error)
	Close() error
}

type gitLog struct {
	dir   string
	name  string
	email string
	repo  *gogit.Repository
	mu    sync.Mutex
}

// OpenGit opens the repository at dir, initializing one on first use.
// name and email sign every commit.
func OpenGit(dir, name, email string) (Log, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}

	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet — initialize.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = name
		cfg.User.Email = email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
	}

	return &gitLog{dir: dir, name: name, email: email, repo: repo}, nil
}

func (g *gitLog) Commit(ctx context.Context, msg string, paths []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(paths) == 0 {
		return nil
	}

	w, err := g.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	// Stage file by file off the status map. Directory paths expand to
	// their changed files, and deletions stage correctly even though the
	// path no longer exists on disk.
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	staged := 0
	for file := range status {
		if !matchesAny(file, paths) {
			continue
		}
		if _, err := w.Add(file); err != nil {
			return fmt.Errorf("failed to stage %s: %w", file, err)
		}
		staged++
	}
	if staged == 0 {
		return nil
	}

	now := time.Now()
	sig := &object.Signature{Name: g.name, Email: g.email, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// matchesAny reports whether file equals one of the slash paths or lives
// under one of them.
func matchesAny(file string, paths []string) bool {
	for _, p := range paths {
		p = strings.TrimSuffix(p, "/")
		if p == "" || p == "." || file == p || strings.HasPrefix(file, p+"/") {
			return true
		}
	}
	return false
}

func (g *gitLog) History(_ context.Context, path string, n int) ([]Commit, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n <= 0 || n > 1000 {
		n = 1000
	}

	opts := &gogit.LogOptions{}
	if path != "" && path != "." {
		opts.FileName = &path
	}
	iter, err := g.repo.Log(opts)
	if err != nil {
		// No commits yet is not an error.
		return nil, nil
	}
	defer iter.Close()

	var commits []Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, Commit{
			Hash:    c.Hash.String(),
			Subject: subject,
			Body:    strings.TrimSpace(body),
			Author:  c.Author.Name,
			Email:   c.Author.Email,
			When:    c.Author.When,
		})
	}
	return commits, nil
}

func (g *gitLog) FileAt(_ context.Context, rev, path string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	h := plumbing.NewHash(rev)
	if rev == "HEAD" {
		ref, err := g.repo.Head()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve HEAD: %w", err)
		}
		h = ref.Hash()
	}

	c, err := g.repo.CommitObject(h)
	if err != nil {
		return nil, fmt.Errorf("failed to get commit: %w", err)
	}
	f, err := c.File(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file at commit: %w", err)
	}
	reader, err := f.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = reader.Close() }()

	return io.ReadAll(reader)
}

func (g *gitLog) Close() error {
	return nil
}
