package pipeline

import (
	"path"

	"github.com/ngld/flybuild/pkg/buildsys"
)

// Content categories
const (
	Scripts = "scripts"
	Styles  = "styles"
	Images  = "images"
	Fonts   = "fonts"
	HTML    = "html"
	Extras  = "extras"
	Vendor  = "vendor"
	Lint    = "lint"
	Clean   = "clean"
	Rev     = "rev"
	Cache   = "cache"
)

// minifyTasks maps a category to the task that replaces the reload in production
var minifyTasks = map[string]string{
	Scripts: "uglify",
	Styles:  "cssmin",
	HTML:    "htmlmin",
}

// watchedCategories get a watch binding per source pattern
var watchedCategories = []string{Scripts, Styles, Images, Fonts, HTML, Extras, Vendor}

// DefaultPaths returns the category layout used when the flyfile doesn't declare one
func DefaultPaths(source, target string) map[string]buildsys.PathSpec {
	src := func(parts ...string) string {
		return path.Join(append([]string{source}, parts...)...)
	}
	dest := func(parts ...string) string {
		return path.Join(append([]string{target}, parts...)...)
	}

	return map[string]buildsys.PathSpec{
		Scripts: {
			Name:  Scripts,
			Src:   []string{src("scripts", "**", "*.js")},
			Dest:  dest("js"),
			Entry: src("scripts", "app.js"),
		},
		Styles: {
			Name:  Styles,
			Src:   []string{src("styles", "**", "*.sass"), src("styles", "**", "*.scss")},
			Dest:  dest("css"),
			Entry: src("styles", "app.sass"),
		},
		Images: {
			Name: Images,
			Src:  []string{src("images", "**", "*.*")},
			Dest: dest("img"),
		},
		Fonts: {
			Name: Fonts,
			Src:  []string{src("fonts", "**", "*.*")},
			Dest: dest("fonts"),
		},
		HTML: {
			Name: HTML,
			Src:  []string{src("*.html")},
			Dest: dest(),
		},
		Extras: {
			Name: Extras,
			Src:  []string{src("extras", "**", "*.*")},
			Dest: dest(),
		},
		Vendor: {
			Name: Vendor,
			Src:  []string{},
			Dest: dest("js"),
		},
		Lint: {
			Name: Lint,
			Src:  []string{src("scripts", "**", "*.js")},
		},
	}
}

// DefaultTools returns the external commands used when the flyfile doesn't override them. The commands
// are expected in node_modules/.bin or on the PATH.
func DefaultTools() map[string]buildsys.ToolSpec {
	return map[string]buildsys.ToolSpec{
		Scripts: {
			Category: Scripts,
			Cmd:      `browserify "$ENTRY" -o "$DEST/app.js"`,
			Minify:   `for f in "$DEST"/*.js; do uglifyjs "$f" --compress drop_console --output "$f"; done`,
		},
		Styles: {
			Category: Styles,
			Cmd:      `sass --no-source-map "$ENTRY" "$DEST/app.css" && postcss "$DEST/app.css" --use autoprefixer --replace`,
			Minify:   `cleancss -o "$DEST/app.css" "$DEST/app.css"`,
		},
		HTML: {
			Category: HTML,
			Minify:   `for f in "$DEST"/*.html; do html-minifier --collapse-whitespace --remove-comments -o "$f" "$f"; done`,
		},
		Lint: {
			Category: Lint,
			Cmd:      `xo $SRC`,
		},
		Rev: {
			Category: Rev,
			Cmd:      `tool rev "$TARGET" "$RELEASE"`,
		},
	}
}
