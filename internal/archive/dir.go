// Package archive keeps raw source pages on the local filesystem.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dvloznov/bank-download/internal/source"
)

// Dir writes each page to <Root>/<key><ext>.
type Dir struct {
	Root string
}

// ArchivePage writes the page, creating directories as needed.
func (d Dir) ArchivePage(ctx context.Context, key string, p source.Page) error {
	name := filepath.Join(d.Root, filepath.FromSlash(key)) + p.Extension()

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("ArchivePage: creating directory: %w", err)
	}
	if err := os.WriteFile(name, p.Data, 0o644); err != nil {
		return fmt.Errorf("ArchivePage: writing %s: %w", name, err)
	}
	return nil
}
