package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/bank-download/internal/source"
)

func TestDirArchivePage(t *testing.T) {
	root := t.TempDir()
	d := Dir{Root: root}

	page := source.Page{Data: []byte("<rows/>"), ContentType: "text/xml"}
	if err := d.ArchivePage(context.Background(), "savings/run-1/all/000", page); err != nil {
		t.Fatalf("ArchivePage() error = %v", err)
	}

	got, err := os.ReadFile(filepath.Join(root, "savings", "run-1", "all", "000.xml"))
	if err != nil {
		t.Fatalf("reading archived page: %v", err)
	}
	if string(got) != "<rows/>" {
		t.Errorf("archived = %q", got)
	}
}
