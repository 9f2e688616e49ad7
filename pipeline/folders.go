package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/planete-oui-connector/models"
)

// EnsureFolder creates path and its parents; existing folders are left alone.
func EnsureFolder(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", path, err)
	}
	return nil
}

// AccountFolder returns the storage folder for an account under root, named
// "<name> (<id>)" so accounts sharing a label never share a folder.
// A nil account stores directly under root.
func AccountFolder(root string, account *models.Account) string {
	if account == nil {
		return root
	}
	name := sanitizeFolderName(account.Name)
	id := sanitizeFolderName(account.ID)
	switch {
	case name != "" && id != "":
		name = fmt.Sprintf("%s (%s)", name, id)
	case name == "":
		name = id
	}
	if name == "" {
		return root
	}
	return filepath.Join(root, name)
}

func sanitizeFolderName(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	name = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '-'
		}
		return r
	}, name)
	return strings.Trim(name, ". ")
}

func ensureDir(filename string) error {
	return EnsureFolder(filepath.Dir(filename))
}
