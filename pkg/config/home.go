package config

import (
	"os"
	"path/filepath"
	"sync"
)

const envHome = EnvPrefix + "_HOME"

var (
	homeOnce sync.Once
	homeDir  string
)

// GetHome returns the directory holding driver APKs and default outputs:
// $APP_EXPLORER_HOME, else the install prefix of a binary living in
// <home>/bin, else the working directory.
func GetHome() string {
	homeOnce.Do(func() {
		homeDir = envOr(envHome, installPrefix)
	})
	return homeDir
}

// GetDataDir is where the graph database and reports go by default.
func GetDataDir() string {
	return filepath.Join(GetHome(), "data")
}

// GetDriversDir returns the driver APK directory of platform.
func GetDriversDir(platform string) string {
	return filepath.Join(GetHome(), "drivers", platform)
}

func envOr(key string, fallback func() string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback()
}

func installPrefix() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		if bin := filepath.Dir(exe); filepath.Base(bin) == "bin" {
			return filepath.Dir(bin)
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}
	return "."
}

// ResetHome forgets the resolved home directory.
func ResetHome() {
	homeOnce = sync.Once{}
	homeDir = ""
}
