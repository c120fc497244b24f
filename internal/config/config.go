// Package config handles loading sitekeeper.toml configuration files.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// DefaultStartPort is the low end of the editor port range.
const DefaultStartPort = 5000

// DefaultEndPort is the high end of the editor port range.
const DefaultEndPort = 6000

// Config represents the sitekeeper.toml configuration file.
type Config struct {
	Storage Storage `toml:"storage"`
	Server  Server  `toml:"server"`
	GitLab  GitLab  `toml:"gitlab"`
	Cloud   Cloud   `toml:"cloud"`
	Log     Log     `toml:"log"`
}

// Storage configures where site trees and session working copies live.
type Storage struct {
	// Root is the directory holding config.yml and per-site master trees.
	Root string `toml:"root"`
	// SessionsRoot is the directory holding per-session working copies.
	// Defaults to Root if empty.
	SessionsRoot string `toml:"sessions-root"`
}

// Server configures the editor server.
type Server struct {
	// StartPort and EndPort bound the random port range for editors.
	StartPort int `toml:"start-port"`
	EndPort   int `toml:"end-port"`
	// Command overrides the editor command. Defaults to lektor.
	Command []string `toml:"command"`
}

// GitLab configures the remote host client. Leaving BaseURL empty selects
// local file storage with no release path.
type GitLab struct {
	BaseURL   string `toml:"base-url"`
	Token     string `toml:"token"`
	Namespace string `toml:"namespace"`
}

// Cloud configures the production-hosting provisioner.
type Cloud struct {
	Region string `toml:"region"`
}

// Log configures logging.
type Log struct {
	Level string `toml:"level"`
}

// Load loads configuration from the global config file and an optional
// project file at path. Returns defaults if neither exists.
func Load(path string) (*Config, error) {
	globalPath, err := globalConfigPath()
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	for _, candidate := range []string{globalPath, path} {
		if candidate == "" {
			continue
		}
		if err := mergeFile(cfg, candidate); err != nil {
			return nil, err
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func globalConfigPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "sitekeeper", "config.toml"), nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var loaded Config
	meta, err := toml.Decode(string(data), &loaded)
	if err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	merge(cfg, &loaded, meta)
	return nil
}

func merge(dst, src *Config, meta toml.MetaData) {
	if meta.IsDefined("storage", "root") {
		dst.Storage.Root = src.Storage.Root
	}
	if meta.IsDefined("storage", "sessions-root") {
		dst.Storage.SessionsRoot = src.Storage.SessionsRoot
	}
	if meta.IsDefined("server", "start-port") {
		dst.Server.StartPort = src.Server.StartPort
	}
	if meta.IsDefined("server", "end-port") {
		dst.Server.EndPort = src.Server.EndPort
	}
	if meta.IsDefined("server", "command") {
		dst.Server.Command = src.Server.Command
	}
	if meta.IsDefined("gitlab", "base-url") {
		dst.GitLab.BaseURL = src.GitLab.BaseURL
	}
	if meta.IsDefined("gitlab", "token") {
		dst.GitLab.Token = src.GitLab.Token
	}
	if meta.IsDefined("gitlab", "namespace") {
		dst.GitLab.Namespace = src.GitLab.Namespace
	}
	if meta.IsDefined("cloud", "region") {
		dst.Cloud.Region = src.Cloud.Region
	}
	if meta.IsDefined("log", "level") {
		dst.Log.Level = src.Log.Level
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.StartPort == 0 {
		cfg.Server.StartPort = DefaultStartPort
	}
	if cfg.Server.EndPort == 0 {
		cfg.Server.EndPort = DefaultEndPort
	}
	if cfg.Storage.SessionsRoot == "" {
		cfg.Storage.SessionsRoot = cfg.Storage.Root
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
