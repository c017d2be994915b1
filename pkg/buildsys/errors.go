package buildsys

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Error kinds reported by the scheduler and the task bodies. Match them with eris.Is.
var (
	ErrTaskNotFound     = eris.New("task not found")
	ErrCyclicDependency = eris.New("cyclic dependency")
	ErrExternalTool     = eris.New("external tool failed")
	ErrFilesystem       = eris.New("filesystem error")
)

func taskNotFound(name string) error {
	return eris.Wrapf(ErrTaskNotFound, "task %s", name)
}

func cyclicDependency(path []string) error {
	return eris.Wrapf(ErrCyclicDependency, "%s", strings.Join(path, " -> "))
}

// FilesystemError wraps an I/O failure as ErrFilesystem while keeping the original message.
func FilesystemError(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}

	return eris.Wrapf(eris.Wrap(ErrFilesystem, err.Error()), format, args...)
}
