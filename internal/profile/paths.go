// Package profile lays out the per-profile state directory.
package profile

import (
	"os"
	"path/filepath"
)

// EnvHome overrides the base directory, mostly for tests and containers.
const EnvHome = "CHATSYNC_HOME"

// BaseDir returns $CHATSYNC_HOME or ~/.chatsync.
func BaseDir() string {
	if v := os.Getenv(EnvHome); v != "" {
		return v
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".chatsync")
}

// Dir returns the profile's directory. It also holds the daemon lock.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

func SocketPath(name string) string {
	return filepath.Join(Dir(name), "chatsyncd.sock")
}

// DBPath returns the sqlite file backing the offline queue and draft.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "queue.db")
}

func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

func LogPath(name string) string {
	return filepath.Join(LogDir(name), "chatsyncd.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDir creates the profile directory tree.
func EnsureDir(name string) error {
	for _, d := range []string{Dir(name), LogDir(name)} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}
