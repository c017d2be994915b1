package buildsys

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
			t.Fatal(err)
		}

		if err := os.WriteFile(path, []byte(content), 0o660); err != nil {
			t.Fatal(err)
		}
	}
}

func TestShellRunsWithEnv(t *testing.T) {
	dir := t.TempDir()
	sh := &Shell{
		Dir: dir,
		Env: map[string]string{"GREETING": "hello"},
	}

	if err := sh.Run(context.Background(), "test", `echo "$GREETING" > out.txt`); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "hello\n" {
		t.Errorf("unexpected output %q", data)
	}
}

func TestShellCapturesOutput(t *testing.T) {
	stdout := &bytes.Buffer{}
	sh := &Shell{Dir: t.TempDir(), Stdout: stdout}

	if err := sh.Run(context.Background(), "test", "echo one; echo two"); err != nil {
		t.Fatal(err)
	}

	if stdout.String() != "one\ntwo\n" {
		t.Errorf("unexpected output %q", stdout.String())
	}
}

func TestShellExitStatus(t *testing.T) {
	sh := &Shell{Dir: t.TempDir()}

	err := sh.Run(context.Background(), "test", "exit 3")
	if !eris.Is(err, ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}

	if !strings.Contains(err.Error(), "status 3") {
		t.Errorf("expected the exit status in %q", err.Error())
	}
}

func TestShellStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	sh := &Shell{Dir: dir}

	err := sh.Run(context.Background(), "test", "false\necho reached > out.txt")
	if !eris.Is(err, ErrExternalTool) {
		t.Fatalf("expected ErrExternalTool, got %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err == nil {
		t.Error("the second command shouldn't have run")
	}
}

func TestShellDryRun(t *testing.T) {
	dir := t.TempDir()
	sh := &Shell{Dir: dir, DryRun: true}

	if err := sh.Run(context.Background(), "test", "echo hi > out.txt"); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "out.txt")); err == nil {
		t.Error("dry runs shouldn't execute anything")
	}
}

func TestShellPathPrepend(t *testing.T) {
	sh := &Shell{
		PathPrepend: []string{"/first", "/second"},
	}

	path := sh.environ().Get("PATH").String()
	sep := string(os.PathListSeparator)
	if !strings.HasPrefix(path, "/first"+sep+"/second"+sep) {
		t.Errorf("unexpected PATH %s", path)
	}
}

func TestResolvePatterns(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"src/a.js":     "a",
		"src/sub/b.js": "b",
		"src/c.css":    "c",
	})

	files, err := ResolvePatterns(dir, []string{"src/**/*.js", "src/a.js", "src/*.txt"})
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{
		filepath.Join(dir, "src", "a.js"),
		filepath.Join(dir, "src", "sub", "b.js"),
	}
	if strings.Join(files, "|") != strings.Join(expected, "|") {
		t.Errorf("expected %v, got %v", expected, files)
	}
}

func TestShellBodySkipsUpToDateOutputs(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"in.txt":  "input",
		"out.txt": "output",
	})

	old := mustStat(t, filepath.Join(dir, "in.txt")).ModTime().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, "in.txt"), old, old); err != nil {
		t.Fatal(err)
	}

	body := ShellBody{
		Name:    "test",
		Base:    dir,
		Inputs:  []string{"in.txt"},
		Outputs: []string{"out.txt"},
		Cmds:    []TaskCmd{TaskCmdScript{TaskName: "test", Content: "echo changed > marker.txt"}},
	}

	if err := body.Execute(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "marker.txt")); err == nil {
		t.Error("the body should have been skipped")
	}

	ctx := WithOptions(context.Background(), RunOptions{Force: true})
	if err := body.Execute(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "marker.txt")); err != nil {
		t.Error("force should run the body anyway")
	}
}

func mustStat(t *testing.T, path string) os.FileInfo {
	t.Helper()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	return info
}
