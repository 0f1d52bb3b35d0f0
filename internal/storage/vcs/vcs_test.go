package vcs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestOpenGitInitializes(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	log, err := OpenGit(dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("OpenGit: %v", err)
	}
	defer log.Close()

	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		t.Error(".git directory not created")
	}

	// Reopening an existing repo must not fail.
	log2, err := OpenGit(dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	log2.Close()
}

func TestCommitAndHistory(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := t.Context()

	log, err := OpenGit(dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("OpenGit: %v", err)
	}
	defer log.Close()

	path := filepath.Join(dir, "workspace.json")
	if err := os.WriteFile(path, []byte(`{"v":1}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := log.Commit(ctx, "Save workspace\n\nfirst version", []string{"workspace.json"}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// A clean worktree commits nothing.
	if err := log.Commit(ctx, "noop", []string{"workspace.json"}); err != nil {
		t.Fatalf("clean commit: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{"v":2}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := log.Commit(ctx, "Save workspace again", []string{"workspace.json"}); err != nil {
		t.Fatalf("second commit: %v", err)
	}

	commits, err := log.History(ctx, "workspace.json", 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(commits) != 2 {
		t.Fatalf("history length = %d, want 2", len(commits))
	}
	if commits[0].Subject != "Save workspace again" {
		t.Errorf("newest subject = %q", commits[0].Subject)
	}
	if commits[1].Subject != "Save workspace" || commits[1].Body != "first version" {
		t.Errorf("oldest = %q / %q", commits[1].Subject, commits[1].Body)
	}
	if commits[0].Author != "Test User" || commits[0].Email != "test@example.com" {
		t.Errorf("signature = %s <%s>", commits[0].Author, commits[0].Email)
	}
}

func TestFileAt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ctx := t.Context()

	log, err := OpenGit(dir, "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("OpenGit: %v", err)
	}
	defer log.Close()

	path := filepath.Join(dir, "note.txt")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := log.Commit(ctx, "add note", []string{"note.txt"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := log.Commit(ctx, "edit note", []string{"note.txt"}); err != nil {
		t.Fatal(err)
	}

	commits, err := log.History(ctx, "note.txt", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(commits) != 2 {
		t.Fatalf("history length = %d, want 2", len(commits))
	}

	got, err := log.FileAt(ctx, commits[1].Hash, "note.txt")
	if err != nil {
		t.Fatalf("FileAt old rev: %v", err)
	}
	if string(got) != "old" {
		t.Errorf("old content = %q", got)
	}
	head, err := log.FileAt(ctx, "HEAD", "note.txt")
	if err != nil {
		t.Fatalf("FileAt HEAD: %v", err)
	}
	if string(head) != "new" {
		t.Errorf("head content = %q", head)
	}
}

func TestHistoryEmptyRepo(t *testing.T) {
	t.Parallel()
	log, err := OpenGit(t.TempDir(), "Test User", "test@example.com")
	if err != nil {
		t.Fatalf("OpenGit: %v", err)
	}
	defer log.Close()

	commits, err := log.History(t.Context(), "", 10)
	if err != nil {
		t.Fatalf("History on empty repo: %v", err)
	}
	if len(commits) != 0 {
		t.Errorf("commits = %d, want 0", len(commits))
	}
}
