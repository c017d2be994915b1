package pipeline

import (
	"sync/atomic"
)

// Mode is the state selected by the entry tasks
type Mode int32

const (
	// Idle is the state before any entry task ran
	Idle Mode = iota
	// Production is set by build (and everything based on it)
	Production
	// Watching is set by watch and default
	Watching
)

func (m Mode) String() string {
	switch m {
	case Production:
		return "production"
	case Watching:
		return "watching"
	default:
		return "idle"
	}
}

// BuildContext holds the directories every task works with and the mode flags set by the entry tasks.
// production and watching share one value so they're never true at the same time.
type BuildContext struct {
	Root    string
	Target  string
	Release string

	mode    int32
	serving int32
}

// NewBuildContext returns an idle context for the given project root. target and release are relative to root.
func NewBuildContext(root, target, release string) *BuildContext {
	return &BuildContext{
		Root:    root,
		Target:  target,
		Release: release,
	}
}

// SetMode switches between idle, production and watching
func (c *BuildContext) SetMode(mode Mode) {
	atomic.StoreInt32(&c.mode, int32(mode))
}

// Mode returns the current mode
func (c *BuildContext) Mode() Mode {
	return Mode(atomic.LoadInt32(&c.mode))
}

// Production reports whether a production build is running
func (c *BuildContext) Production() bool {
	return c.Mode() == Production
}

// Watching reports whether the watch loop is active
func (c *BuildContext) Watching() bool {
	return c.Mode() == Watching
}

// SetServing is called once the dev server bound its listener
func (c *BuildContext) SetServing(serving bool) {
	var value int32
	if serving {
		value = 1
	}
	atomic.StoreInt32(&c.serving, value)
}

// Serving reports whether the dev server is accepting connections
func (c *BuildContext) Serving() bool {
	return atomic.LoadInt32(&c.serving) == 1
}
