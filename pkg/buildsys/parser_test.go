package buildsys

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.starlark.net/starlark"
	"mvdan.cc/sh/v3/syntax"
)

const testFlyfile = `
mode = option("mode", "debug", "build mode")
setenv("FLY_MODE", mode)

def configure():
    paths("scripts", src = ["src/**/*.js"], dest = "dist/js", entry = "src/app.js")
    paths("styles", src = "src/app.sass")
    tool("scripts", cmd = "bundle $ENTRY", minify = "squash $DEST")

    helper = task(cmds = ["echo helper >> log.txt"])

    task("hello",
        desc = "writes a greeting",
        cmds = ["echo $FLY_MODE > hello.txt", ("echo", "two words"), helper])

    task("all", desc = "runs everything", deps = ["hello", "other"], parallel = True)
    task("other", hidden = True)
`

func writeFlyfile(t *testing.T, content string) (string, string) {
	t.Helper()

	dir := t.TempDir()
	script := filepath.Join(dir, "flyfile.star")
	if err := os.WriteFile(script, []byte(content), 0o660); err != nil {
		t.Fatal(err)
	}
	return dir, script
}

func TestRunScript(t *testing.T) {
	dir, script := writeFlyfile(t, testFlyfile)

	flyfile, options, err := RunScript(context.Background(), script, dir, map[string]string{"mode": "release"}, true)
	if err != nil {
		t.Fatal(err)
	}

	if opt, ok := options["mode"]; !ok || opt.Default() != "debug" || opt.Help != "build mode" {
		t.Errorf("unexpected option %+v", options["mode"])
	}

	if flyfile.Env["FLY_MODE"] != "release" {
		t.Errorf("expected the option override in the env, got %v", flyfile.Env)
	}

	names := make([]string, 0, len(flyfile.Tasks))
	for name := range flyfile.Tasks {
		names = append(names, name)
	}
	if len(names) != 3 {
		t.Errorf("expected hello, all and other (anonymous tasks aren't registered), got %v", names)
	}

	all := flyfile.Tasks["all"]
	if all == nil || all.Mode != Parallel || strings.Join(all.Deps, ",") != "hello,other" {
		t.Errorf("unexpected task all: %+v", all)
	}

	if !flyfile.Tasks["other"].Hidden {
		t.Error("other should be hidden")
	}

	hello := flyfile.Tasks["hello"].Body.(ShellBody)
	if len(hello.Cmds) != 3 {
		t.Fatalf("expected 3 commands, got %d", len(hello.Cmds))
	}

	if script, ok := hello.Cmds[1].(TaskCmdScript); !ok || script.Content != "echo 'two words'" {
		t.Errorf("unexpected tuple command %+v", hello.Cmds[1])
	}

	if hello.Env["FLY_MODE"] != "release" {
		t.Errorf("setenv values should be applied to the task env, got %v", hello.Env)
	}

	scripts := flyfile.Paths["scripts"]
	if strings.Join(scripts.Src, ",") != "src/**/*.js" || scripts.Dest != "dist/js" || scripts.Entry != "src/app.js" {
		t.Errorf("unexpected scripts paths %+v", scripts)
	}

	if strings.Join(flyfile.Paths["styles"].Src, ",") != "src/app.sass" {
		t.Errorf("unexpected styles paths %+v", flyfile.Paths["styles"])
	}

	tool := flyfile.Tools["scripts"]
	if tool.Cmd != "bundle $ENTRY" || tool.Minify != "squash $DEST" {
		t.Errorf("unexpected tool %+v", tool)
	}
}

func TestRunScriptTasksExecute(t *testing.T) {
	dir, script := writeFlyfile(t, testFlyfile)

	flyfile, _, err := RunScript(context.Background(), script, dir, nil, true)
	if err != nil {
		t.Fatal(err)
	}

	if err := NewScheduler(flyfile.Tasks).Run(context.Background(), "all"); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "debug\n" {
		t.Errorf("unexpected hello.txt %q", data)
	}

	data, err = os.ReadFile(filepath.Join(dir, "log.txt"))
	if err != nil {
		t.Fatal(err)
	}

	if string(data) != "helper\n" {
		t.Errorf("the anonymous helper task should have run once, got %q", data)
	}
}

func TestRunScriptErrors(t *testing.T) {
	tests := map[string]string{
		"missing configure": `x = 1`,
		"task in global scope": `
task("early")
def configure():
    pass
`,
		"option in configure": `
def configure():
    option("late", "")
`,
		"version mismatch": `
require_version("< 0.1.0")
def configure():
    pass
`,
		"duplicate task": `
def configure():
    task("a")
    task("a")
`,
		"script error": `
error("broken")
def configure():
    pass
`,
	}

	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			dir, script := writeFlyfile(t, content)

			if _, _, err := RunScript(context.Background(), script, dir, nil, true); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestRunScriptWithoutConfigure(t *testing.T) {
	dir, script := writeFlyfile(t, `
value = option("x", "fallback", "some option")
require_version(">= 0.1.0")
`)

	_, options, err := RunScript(context.Background(), script, dir, nil, false)
	if err != nil {
		t.Fatal(err)
	}

	if options["x"].Default() != "fallback" {
		t.Errorf("unexpected options %+v", options)
	}
}

func TestProcessCmdParts(t *testing.T) {
	tests := []struct {
		parts    starlark.Tuple
		expected string
	}{
		{starlark.Tuple{starlark.String("npm"), starlark.String("install")}, "npm install"},
		{starlark.Tuple{starlark.String("NODE_ENV=production"), starlark.String("npm"), starlark.String("ci")}, "NODE_ENV=production npm ci"},
		{starlark.Tuple{starlark.String("--out=dist"), starlark.String("x")}, "--out=dist x"},
		{starlark.Tuple{starlark.String("cp"), StarlarkPath("/project/src/a b.js"), starlark.String("$HOME")}, "cp 'src/a b.js' '$HOME'"},
	}

	parser := syntax.NewParser()
	printer := syntax.NewPrinter(syntax.Minify(true))

	for _, test := range tests {
		call, err := processCmdParts(test.parts, parser, "/project")
		if err != nil {
			t.Errorf("%v: %v", test.parts, err)
			continue
		}

		var out strings.Builder
		if err := printer.Print(&out, call); err != nil {
			t.Fatal(err)
		}

		if out.String() != test.expected {
			t.Errorf("%v: got %q, expected %q", test.parts, out.String(), test.expected)
		}
	}

	if _, err := processCmdParts(starlark.Tuple{starlark.MakeInt(1)}, parser, "/project"); err == nil {
		t.Error("expected an error for a non-string argument")
	}
}
