package lektorproject

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	content := "[project]\nname = Buy Our Widgets\nurl = https://bow.example.com\n"
	if err := os.WriteFile(filepath.Join(dir, "bow.lektorproject"), []byte(content), 0o644); err != nil {
		t.Fatalf("write project file: %v", err)
	}

	project, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if project.Name != "Buy Our Widgets" {
		t.Fatalf("expected name, got %q", project.Name)
	}
	if project.URL != "https://bow.example.com" {
		t.Fatalf("expected url, got %q", project.URL)
	}
}

func TestLoadMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestWriteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Project{
		Name:   "Underpants Collectors International",
		URL:    "https://uci.example.com",
		Themes: []string{"plain", "fancy"},
	}
	if err := Write(dir, "uci", want); err != nil {
		t.Fatalf("write: %v", err)
	}

	path, err := Find(dir)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if filepath.Base(path) != "uci.lektorproject" {
		t.Fatalf("expected site-named file, got %q", path)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %+v, got %+v", want, got)
	}
}

func TestSetThemes(t *testing.T) {
	dir := t.TempDir()
	if err := Write(dir, "bow", Project{Name: "Buy Our Widgets"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := SetThemes(dir, []string{"plain"}); err != nil {
		t.Fatalf("set themes: %v", err)
	}

	got, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(got.Themes, []string{"plain"}) {
		t.Fatalf("expected themes [plain], got %v", got.Themes)
	}
	if got.Name != "Buy Our Widgets" {
		t.Fatalf("name lost across theme rewrite: %q", got.Name)
	}
}

func TestSetThemesMissingProject(t *testing.T) {
	if err := SetThemes(t.TempDir(), []string{"plain"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
