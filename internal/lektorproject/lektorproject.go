// Package lektorproject reads the `*.lektorproject` file inside a site's
// master tree. The catalog falls back to these values when a site entry
// lacks a name or url.
package lektorproject

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/ini.v1"
)

// ErrNotFound indicates no project file exists under the given directory.
var ErrNotFound = errors.New("lektorproject file not found")

// Project holds the fields read from the [project] section.
type Project struct {
	Name   string
	URL    string
	Themes []string
}

// Find returns the path of the project file directly under dir.
func Find(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("read dir %s: %w", dir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".lektorproject") {
			return filepath.Join(dir, entry.Name()), nil
		}
	}
	return "", ErrNotFound
}

// Load reads the project file under dir.
func Load(dir string) (Project, error) {
	path, err := Find(dir)
	if err != nil {
		return Project{}, err
	}

	file, err := ini.Load(path)
	if err != nil {
		return Project{}, fmt.Errorf("parse %s: %w", path, err)
	}

	section := file.Section("project")
	project := Project{
		Name: section.Key("name").String(),
		URL:  section.Key("url").String(),
	}
	if section.HasKey("themes") {
		project.Themes = section.Key("themes").Strings(",")
	}
	return project, nil
}

// Write creates a project file named after the site under dir.
func Write(dir, siteID string, project Project) error {
	file := ini.Empty()
	section, err := file.NewSection("project")
	if err != nil {
		return fmt.Errorf("new section: %w", err)
	}
	if _, err := section.NewKey("name", project.Name); err != nil {
		return fmt.Errorf("set project name: %w", err)
	}
	if project.URL != "" {
		if _, err := section.NewKey("url", project.URL); err != nil {
			return fmt.Errorf("set project url: %w", err)
		}
	}
	if len(project.Themes) > 0 {
		if _, err := section.NewKey("themes", strings.Join(project.Themes, ", ")); err != nil {
			return fmt.Errorf("set project themes: %w", err)
		}
	}

	path := filepath.Join(dir, siteID+".lektorproject")
	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// SetThemes rewrites the themes key of the project file under dir.
func SetThemes(dir string, themes []string) error {
	path, err := Find(dir)
	if err != nil {
		return err
	}

	file, err := ini.Load(path)
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	file.Section("project").Key("themes").SetValue(strings.Join(themes, ", "))
	if err := file.SaveTo(path); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
