package buildsys

import (
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/pattern"
)

var (
	matcherLock  sync.Mutex
	matcherCache = map[string]*regexp.Regexp{}
)

func compilePattern(pat string) (*regexp.Regexp, error) {
	matcherLock.Lock()
	defer matcherLock.Unlock()

	if re, ok := matcherCache[pat]; ok {
		return re, nil
	}

	// "**/" matches zero or more directories, any other "**" behaves like ".*"
	var buf strings.Builder
	rest := pat
	for {
		idx := strings.Index(rest, "**")
		if idx == -1 {
			break
		}

		expr, err := pattern.Regexp(rest[:idx], pattern.Filenames)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid pattern %s", pat)
		}
		buf.WriteString(expr)

		rest = rest[idx+2:]
		if strings.HasPrefix(rest, "/") {
			buf.WriteString("(?:.*/)?")
			rest = rest[1:]
		} else {
			buf.WriteString(".*")
		}
	}

	expr, err := pattern.Regexp(rest, pattern.Filenames)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid pattern %s", pat)
	}
	buf.WriteString(expr)

	re, err := regexp.Compile("^(?:" + buf.String() + ")$")
	if err != nil {
		return nil, eris.Wrapf(err, "invalid pattern %s", pat)
	}

	matcherCache[pat] = re
	return re, nil
}

// MatchPattern reports whether the slash separated path matches the glob. "**" matches any number of directories.
func MatchPattern(pat, path string) (bool, error) {
	pat = strings.TrimPrefix(filepath.ToSlash(pat), "./")
	path = strings.TrimPrefix(filepath.ToSlash(path), "./")

	re, err := compilePattern(pat)
	if err != nil {
		return false, err
	}

	return re.MatchString(path), nil
}

// PatternBase returns the directory part of a glob before the first wildcard
func PatternBase(pat string) string {
	pat = filepath.ToSlash(pat)
	idx := strings.IndexAny(pat, "*?[{")
	if idx == -1 {
		return filepath.Dir(filepath.FromSlash(pat))
	}

	base := pat[:idx]
	slash := strings.LastIndex(base, "/")
	if slash == -1 {
		return "."
	}

	return filepath.FromSlash(base[:slash])
}
