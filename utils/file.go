package utils

import (
	"os"
	"path/filepath"
	"strings"

	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// SiblingFile replaces the extension of fn with suffix. "run/out-PC.tif" with "-center.txt"
// becomes "run/out-PC-center.txt".
func SiblingFile(fn, suffix string) string {
	return strings.TrimSuffix(fn, filepath.Ext(fn)) + suffix
}
