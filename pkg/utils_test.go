package pkg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
)

func TestFindProjectRoot(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "src", "scripts")
	if err := os.MkdirAll(nested, 0o770); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(root, "flyfile.star"), []byte("def configure():\n    pass\n"), 0o660); err != nil {
		t.Fatal(err)
	}

	found, err := FindProjectRoot(nested, "flyfile.star")
	if err != nil {
		t.Fatal(err)
	}

	if found != root {
		t.Errorf("expected %s, got %s", root, found)
	}

	_, err = FindProjectRoot(nested, "missing.marker")
	if !eris.Is(err, ErrNoProjectRoot) {
		t.Errorf("expected ErrNoProjectRoot, got %v", err)
	}
}
