package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parkmill/sitekeeper/gitlab"
)

func gitOrSkip(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func runTestGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %v: %v: %s", args, err, output)
	}
	return strings.TrimSpace(string(output))
}

func TestGitRequestRelease(t *testing.T) {
	gitOrSkip(t)

	bare := t.TempDir()
	runTestGit(t, bare, "init", "--bare", "-b", "master")

	sessionDir := filepath.Join(t.TempDir(), "bow", "widgets1")
	if err := os.MkdirAll(filepath.Dir(sessionDir), 0o755); err != nil {
		t.Fatalf("create session parent: %v", err)
	}
	runTestGit(t, filepath.Dir(sessionDir), "clone", bare, sessionDir)
	runTestGit(t, sessionDir, "config", "user.email", "keeper@example.com")
	runTestGit(t, sessionDir, "config", "user.name", "sitekeeper")
	if err := os.WriteFile(filepath.Join(sessionDir, "contents.lr"), []byte("title: Edited\n"), 0o644); err != nil {
		t.Fatalf("write edit: %v", err)
	}

	var created map[string]any
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v4/projects/sites/bow":
			json.NewEncoder(w).Encode(map[string]any{"id": 5})
		case r.Method == http.MethodPost && r.URL.Path == "/api/v4/projects/5/merge_requests":
			json.NewDecoder(r.Body).Decode(&created)
			json.NewEncoder(w).Encode(map[string]any{
				"iid":           1,
				"title":         created["title"],
				"source_branch": created["source_branch"],
				"target_branch": created["target_branch"],
				"state":         "opened",
				"web_url":       "https://gitlab.example.com/sites/bow/-/merge_requests/1",
			})
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
		}
	}))
	defer api.Close()

	storage := NewGit(GitOptions{
		Root: t.TempDir(),
		Client: gitlab.New(gitlab.Options{
			BaseURL:   api.URL,
			Token:     "token",
			Namespace: "sites",
			Delay:     time.Millisecond,
		}),
	})

	if err := storage.RequestRelease(context.Background(), "bow", "widgets1", sessionDir); err != nil {
		t.Fatalf("request release: %v", err)
	}

	branches := runTestGit(t, bare, "branch", "--list")
	if !strings.Contains(branches, "session-widgets1") {
		t.Fatalf("expected release branch pushed, got branches:\n%s", branches)
	}

	if created["source_branch"] != "session-widgets1" {
		t.Fatalf("expected source branch session-widgets1, got %v", created["source_branch"])
	}
	if created["target_branch"] != "master" {
		t.Fatalf("expected target branch master, got %v", created["target_branch"])
	}
	if title, _ := created["title"].(string); !strings.Contains(title, "widgets1") {
		t.Fatalf("expected session id in title, got %v", created["title"])
	}
}

func TestReleaseBranchNaming(t *testing.T) {
	if got := ReleaseBranch("pantssss"); got != "session-pantssss" {
		t.Fatalf("expected session- prefix, got %q", got)
	}
	if !strings.HasPrefix(ReleaseBranch("x"), BranchPrefix) {
		t.Fatal("expected branch prefix")
	}
}
