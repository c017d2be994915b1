package cmd

import (
	"strings"
	"testing"
)

func TestSplitArgs(t *testing.T) {
	tasks, options := splitArgs([]string{"build", "minify=false", "lint", "proxy=http://localhost:8080/api?a=b"})

	if strings.Join(tasks, ",") != "build,lint" {
		t.Errorf("unexpected tasks %v", tasks)
	}

	if options["minify"] != "false" || options["proxy"] != "http://localhost:8080/api?a=b" {
		t.Errorf("unexpected options %v", options)
	}

	tasks, options = splitArgs([]string{"minify=true"})
	if strings.Join(tasks, ",") != "default" || len(options) != 1 {
		t.Errorf("expected the default task, got %v %v", tasks, options)
	}
}
