package cmd

import (
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o660); err != nil {
		t.Fatal(err)
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func TestMovePaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b.txt")
	out := filepath.Join(dir, "out")
	touch(t, a)
	touch(t, b)

	if err := movePaths([]string{a, b}, filepath.Join(dir, "c.txt")); err == nil {
		t.Error("moving several files onto a file should fail")
	}

	if err := os.Mkdir(out, 0o770); err != nil {
		t.Fatal(err)
	}

	if err := movePaths([]string{a, b}, out); err != nil {
		t.Fatal(err)
	}

	if !exists(filepath.Join(out, "a.txt")) || !exists(filepath.Join(out, "b.txt")) || exists(a) {
		t.Error("files weren't moved into the directory")
	}

	renamed := filepath.Join(dir, "renamed.txt")
	if err := movePaths([]string{filepath.Join(out, "a.txt")}, renamed); err != nil {
		t.Fatal(err)
	}

	if !exists(renamed) {
		t.Error("a single file should be renamed")
	}

	if err := movePaths([]string{renamed}, filepath.Join(dir, "missing", "x.txt")); err == nil {
		t.Error("expected an error for a missing destination directory")
	}
}

func TestRemovePaths(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	sub := filepath.Join(dir, "sub")
	touch(t, file)
	touch(t, filepath.Join(sub, "nested.txt"))

	if err := removePaths([]string{file, sub}, false, false); err == nil {
		t.Error("removing a directory without recursive should fail")
	}

	if !exists(file) {
		t.Error("nothing should be removed when an argument is rejected")
	}

	missing := filepath.Join(dir, "missing")
	if err := removePaths([]string{missing}, true, false); err == nil {
		t.Error("missing paths should fail without force")
	}

	if err := removePaths([]string{file, sub, missing}, true, true); err != nil {
		t.Fatal(err)
	}

	if exists(file) || exists(sub) {
		t.Error("paths weren't removed")
	}
}

func TestMakeDirs(t *testing.T) {
	dir := t.TempDir()
	deep := filepath.Join(dir, "a", "b", "c")

	if err := makeDirs([]string{deep}, false); err == nil {
		t.Error("expected an error without parents")
	}

	if err := makeDirs([]string{deep}, true); err != nil {
		t.Fatal(err)
	}

	if info, err := os.Stat(deep); err != nil || !info.IsDir() {
		t.Error("the directory wasn't created")
	}
}
