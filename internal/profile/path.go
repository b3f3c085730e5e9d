package profile

import (
	"os"
	"path/filepath"
	"strings"
)

// DBFile is the database file name inside a profile directory.
const DBFile = "teamsync.db"

// Root returns the directory holding every profile.
// Defaults to ~/.teamsync/profiles, falling back to ./.teamsync/profiles
// when the home directory is unavailable.
func Root() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		cwd, _ := os.Getwd()
		return filepath.Join(cwd, ".teamsync", "profiles")
	}
	return filepath.Join(home, ".teamsync", "profiles")
}

// Encode maps a profile ID to a directory name.
func Encode(id string) string {
	return strings.ReplaceAll(id, "/", "__")
}

// Decode maps a directory name back to a profile ID.
func Decode(dir string) string {
	return strings.ReplaceAll(dir, "__", "/")
}

// DBPath returns the database path for a profile.
// Example: DBPath("acme/alice") -> ~/.teamsync/profiles/acme__alice/teamsync.db
func DBPath(id string) string {
	return filepath.Join(Root(), Encode(id), DBFile)
}

// List returns the IDs of profiles that have a database under root.
func List(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(root, e.Name(), DBFile)); err != nil {
			continue
		}
		ids = append(ids, Decode(e.Name()))
	}
	return ids, nil
}
