package cmd

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

// expandArgs resolves glob arguments on Windows where the shell doesn't do it for us
func expandArgs(args []string, allowEmpty bool) ([]string, error) {
	if runtime.GOOS != "windows" {
		return args, nil
	}

	items := []string{}
	for _, arg := range args {
		matches, err := filepath.Glob(arg)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to resolve pattern %s", arg)
		}

		if matches == nil && !allowEmpty {
			return nil, eris.Errorf("pattern %s produced no matches", arg)
		}
		items = append(items, matches...)
	}
	return items, nil
}

// movePaths renames each source into dest. Multiple sources require dest to be an existing directory.
func movePaths(sources []string, dest string) error {
	dest = filepath.Clean(dest)
	if parent, err := os.Stat(filepath.Dir(dest)); err != nil || !parent.IsDir() {
		return eris.Errorf("destination directory %s doesn't exist", filepath.Dir(dest))
	}

	intoDir := false
	switch info, err := os.Stat(dest); {
	case err == nil:
		intoDir = info.IsDir()
	case !os.IsNotExist(err):
		return eris.Wrapf(err, "failed to stat %s", dest)
	}

	if len(sources) > 1 && !intoDir {
		return eris.Errorf("can't move %d items to %s: not a directory", len(sources), dest)
	}

	for _, src := range sources {
		target := dest
		if intoDir {
			target = filepath.Join(dest, filepath.Base(src))
		}

		if err := os.Rename(src, target); err != nil {
			return eris.Wrapf(err, "failed to move %s to %s", src, target)
		}
	}
	return nil
}

// removePaths checks every path before deleting anything so a bad argument leaves the tree untouched
func removePaths(paths []string, recursive, force bool) error {
	targets := make([]string, 0, len(paths))
	for _, path := range paths {
		info, err := os.Lstat(path)
		switch {
		case err != nil && force && os.IsNotExist(err):
			continue
		case err != nil:
			return eris.Wrapf(err, "can't remove %s", path)
		case info.IsDir() && !recursive:
			return eris.Errorf("%s is a directory (use -r)", path)
		}
		targets = append(targets, path)
	}

	for _, path := range targets {
		if err := os.RemoveAll(path); err != nil {
			return eris.Wrapf(err, "failed to remove %s", path)
		}
	}
	return nil
}

func makeDirs(paths []string, parents bool) error {
	mkdir := os.Mkdir
	if parents {
		mkdir = os.MkdirAll
	}

	for _, path := range paths {
		if err := mkdir(path, 0o770); err != nil {
			return eris.Wrapf(err, "failed to create %s", path)
		}
	}
	return nil
}

var mvCmd = &cobra.Command{
	Use:   "mv <source>... <dest>",
	Short: "Moves files and directories (POSIX mv)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		sources, err := expandArgs(args[:len(args)-1], false)
		if err != nil {
			return err
		}
		return movePaths(sources, args[len(args)-1])
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>...",
	Short: "Removes files and directories (POSIX rm)",
	RunE: func(cmd *cobra.Command, args []string) error {
		recursive, _ := cmd.Flags().GetBool("recursive")
		force, _ := cmd.Flags().GetBool("force")

		paths, err := expandArgs(args, force)
		if err != nil {
			return err
		}
		return removePaths(paths, recursive, force)
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>...",
	Short: "Creates directories (POSIX mkdir)",
	RunE: func(cmd *cobra.Command, args []string) error {
		parents, _ := cmd.Flags().GetBool("parents")
		return makeDirs(args, parents)
	},
}

func init() {
	rmCmd.Flags().BoolP("recursive", "r", false, "recursively delete directories")
	rmCmd.Flags().BoolP("force", "f", false, "ignore missing files")
	mkdirCmd.Flags().BoolP("parents", "p", false, "create parent directories as needed")

	toolCmd.AddCommand(mvCmd, rmCmd, mkdirCmd)
}
