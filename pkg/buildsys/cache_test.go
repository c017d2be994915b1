package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestCacheRoundTrip(t *testing.T) {
	dir, script := writeFlyfile(t, testFlyfile)
	options := map[string]string{"mode": "release"}

	flyfile, _, err := RunScript(context.Background(), script, dir, options, true)
	if err != nil {
		t.Fatal(err)
	}

	cache := filepath.Join(dir, ".flybuild.cache")
	if err := WriteCache(cache, script, options, flyfile); err != nil {
		t.Fatal(err)
	}

	cached, err := ReadCache(cache, script, options)
	if err != nil {
		t.Fatal(err)
	}

	if cached == nil {
		t.Fatal("expected a cache hit")
	}

	if len(cached.Tasks) != len(flyfile.Tasks) {
		t.Errorf("expected %d tasks, got %d", len(flyfile.Tasks), len(cached.Tasks))
	}

	hello, ok := cached.Tasks["hello"].Body.(ShellBody)
	if !ok || len(hello.Cmds) != 3 {
		t.Fatalf("unexpected body %+v", cached.Tasks["hello"].Body)
	}

	if _, ok := hello.Cmds[2].(TaskCmdTaskRef); !ok {
		t.Errorf("expected a task reference, got %T", hello.Cmds[2])
	}

	if cached.Tools["scripts"].Minify != "squash $DEST" {
		t.Errorf("unexpected tools %+v", cached.Tools)
	}

	// cached tasks still execute
	if err := NewScheduler(cached.Tasks).Run(context.Background(), "hello"); err != nil {
		t.Fatal(err)
	}
}

func TestCacheInvalidation(t *testing.T) {
	dir, script := writeFlyfile(t, testFlyfile)
	options := map[string]string{"mode": "release"}

	flyfile, _, err := RunScript(context.Background(), script, dir, options, true)
	if err != nil {
		t.Fatal(err)
	}

	cache := filepath.Join(dir, ".flybuild.cache")
	if err := WriteCache(cache, script, options, flyfile); err != nil {
		t.Fatal(err)
	}

	cached, err := ReadCache(cache, script, map[string]string{"mode": "debug"})
	if err != nil || cached != nil {
		t.Errorf("different options should miss the cache (%v, %v)", cached, err)
	}

	later := time.Now().Add(time.Minute)
	if err := os.Chtimes(script, later, later); err != nil {
		t.Fatal(err)
	}

	cached, err = ReadCache(cache, script, options)
	if err != nil || cached != nil {
		t.Errorf("a modified flyfile should miss the cache (%v, %v)", cached, err)
	}
}

func TestCacheMissing(t *testing.T) {
	dir, script := writeFlyfile(t, testFlyfile)

	cached, err := ReadCache(filepath.Join(dir, "missing.cache"), script, nil)
	if err != nil || cached != nil {
		t.Errorf("expected a silent miss, got %v, %v", cached, err)
	}
}
