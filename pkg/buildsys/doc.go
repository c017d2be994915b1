// Package buildsys implements a minimal task scheduler with Starlark flyfiles for the task declarations
// and mvdan.cc/sh for the shell runtime that drives the external tools.
// Tasks run their dependencies first (sequentially or in parallel) and may start other tasks by name from
// inside their bodies.
package buildsys

// Version is checked against require_version() calls in flyfiles
const Version = "0.3.0"
