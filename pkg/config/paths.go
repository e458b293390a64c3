package config

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	EnvHibikiConfig = "HIBIKI_CONFIG"
	EnvHibikiHome   = "HIBIKI_HOME"
)

type RuntimePaths struct {
	HomeDir    string
	ConfigPath string
}

// ResolveRuntimePaths picks the config location: an explicit HIBIKI_CONFIG
// wins, then HIBIKI_HOME, then ~/.hibiki.
func ResolveRuntimePaths() RuntimePaths {
	if configPath := expandHome(strings.TrimSpace(os.Getenv(EnvHibikiConfig))); configPath != "" {
		return RuntimePaths{
			HomeDir:    filepath.Dir(configPath),
			ConfigPath: configPath,
		}
	}

	homeDir := expandHome(strings.TrimSpace(os.Getenv(EnvHibikiHome)))
	if homeDir == "" {
		homeDir = defaultHibikiHome()
	}

	return RuntimePaths{
		HomeDir:    homeDir,
		ConfigPath: filepath.Join(homeDir, "config.json"),
	}
}

func defaultHibikiHome() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".hibiki"
	}
	return filepath.Join(home, ".hibiki")
}
