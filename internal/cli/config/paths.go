package config

import (
	"os"
	"path/filepath"
	"runtime"
)

const (
	appDirName       = "cfenv"
	profilesFileName = "profiles.json"
	settingsFileName = "config.yaml"
	localDirName     = ".cfenv"
	localFileName    = "config.json"
)

// GlobalDir returns the per-user configuration directory:
// $XDG_CONFIG_HOME/cfenv, ~/.config/cfenv, or %APPDATA%\cfenv on Windows.
func GlobalDir() string {
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, appDirName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "AppData", "Roaming", appDirName)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, appDirName)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", appDirName)
}

// ProfilesPath returns the path of profiles.json.
func ProfilesPath() string {
	return filepath.Join(GlobalDir(), profilesFileName)
}

// SettingsPath returns the path of the optional settings file.
func SettingsPath() string {
	return filepath.Join(GlobalDir(), settingsFileName)
}

// LocalDir returns the project-local state directory under cwd.
func LocalDir(cwd string) string {
	return filepath.Join(cwd, localDirName)
}

// LocalPath returns the project-local link file under cwd.
func LocalPath(cwd string) string {
	return filepath.Join(LocalDir(cwd), localFileName)
}

// DataDir returns the directory of the local backend database.
func DataDir() string {
	return filepath.Join(GlobalDir(), "data")
}
