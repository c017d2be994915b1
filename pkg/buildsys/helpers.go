package buildsys

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// normalizePath joins the given flyfile paths into an absolute one. Relative paths start at the flyfile's
// directory, "//" starts at the project root and "/" stays absolute.
func normalizePath(ctx *parserCtx, parts ...string) string {
	result := filepath.Dir(ctx.filepath)

	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "//"):
			result = filepath.Join(ctx.projectRoot, part[2:])
		case strings.HasPrefix(part, "/"):
			result = filepath.Join(filepath.VolumeName(result), part)
		case filepath.IsAbs(part):
			result = part
		default:
			result = filepath.Join(result, part)
		}
	}

	return filepath.Clean(result)
}

// relativePath turns a flyfile path or glob into one relative to the project root
func relativePath(ctx *parserCtx, path string) string {
	rel, err := filepath.Rel(ctx.projectRoot, normalizePath(ctx, path))
	if err != nil {
		return normalizePath(ctx, path)
	}
	return filepath.ToSlash(rel)
}

// simplifyPath formats paths inside the project as "//sub/dir" for messages
func simplifyPath(ctx *parserCtx, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	prefix := ctx.projectRoot + string(filepath.Separator)
	if rest := strings.TrimPrefix(absPath, prefix); rest != absPath {
		return "//" + filepath.ToSlash(rest)
	}
	return path
}

// pathArg accepts both plain strings and path values
func pathArg(value starlark.Value) (string, bool) {
	switch value := value.(type) {
	case starlark.String:
		return value.GoString(), true
	case StarlarkPath:
		return string(value), true
	}
	return "", false
}

// stringList converts a single string or an iterable of strings (or paths) into a slice. Missing values
// produce an empty slice.
func stringList(value starlark.Value, field string) ([]string, error) {
	if value == nil || value == starlark.None {
		return []string{}, nil
	}

	if item, ok := pathArg(value); ok {
		return []string{item}, nil
	}

	iterable, ok := value.(starlark.Iterable)
	if !ok {
		return nil, eris.Errorf("%s has to be a string or a list of strings, got %s", field, value.Type())
	}

	result := []string{}
	iter := iterable.Iterate()
	defer iter.Done()

	var raw starlark.Value
	for iter.Next(&raw) {
		item, ok := pathArg(raw)
		if !ok {
			return nil, eris.Errorf("expected all items in %s to be strings but found %s", field, raw.Type())
		}
		result = append(result, item)
	}
	return result, nil
}

// toStarlark converts decoded JSON or YAML documents into starlark values
func toStarlark(value interface{}) (starlark.Value, error) {
	switch value := value.(type) {
	case nil:
		return starlark.None, nil
	case string:
		return starlark.String(value), nil
	case bool:
		return starlark.Bool(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case int64:
		return starlark.MakeInt64(value), nil
	case uint64:
		return starlark.MakeUint64(value), nil
	case float64:
		return starlark.Float(value), nil
	case []interface{}:
		items := make([]starlark.Value, len(value))
		for idx, raw := range value {
			item, err := toStarlark(raw)
			if err != nil {
				return nil, err
			}
			items[idx] = item
		}
		return starlark.NewList(items), nil
	case map[string]interface{}:
		keys := make([]string, 0, len(value))
		for key := range value {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		dict := starlark.NewDict(len(value))
		for _, key := range keys {
			item, err := toStarlark(value[key])
			if err != nil {
				return nil, err
			}

			if err := dict.SetKey(starlark.String(key), item); err != nil {
				return nil, err
			}
		}
		return dict, nil
	}

	return nil, eris.Errorf("values of type %T can't be passed to flyfiles", value)
}
