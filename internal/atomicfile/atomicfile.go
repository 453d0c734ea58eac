// Package atomicfile writes files so that readers only ever see the old
// contents or the complete new contents.
package atomicfile

import (
	"fmt"
	"os"

	"github.com/google/renameio/v2"
)

// WriteFile writes data to a temporary file next to path, syncs it and
// renames it into place. The temporary file is removed if any step fails.
func WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("atomic write %s: %w", path, err)
	}
	return nil
}
