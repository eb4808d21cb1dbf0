package log

import (
	"os"
	"path/filepath"
	"runtime"
)

func getDefaultDir() (string, error) {
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, "Library", "Logs", "soulsync"), nil
	case "windows":
		// UserCacheDir is %LocalAppData% on Windows.
		local, err := os.UserCacheDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(local, "soulsync", "logs"), nil
	}

	// XDG_CONFIG_HOME, falling back to ~/.config
	cfg, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(cfg, "soulsync", "logs"), nil
}
