package cmd

import (
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ngld/flybuild/pkg"
	"github.com/ngld/flybuild/pkg/assets"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Helper commands used by the built-in tasks",
	Long: `These commands are available as "tool <name>" inside task commands. rm, mv and mkdir replace the
POSIX commands of the same name so flyfiles behave the same on every platform.`,
}

func getProgressBar(length int, desc string) *progressbar.ProgressBar {
	if os.Getenv("CI") == "true" || !term.IsTerminal(int(os.Stderr.Fd())) {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

var revCmd = &cobra.Command{
	Use:   "rev <target> <release>",
	Short: "Fingerprints the files in target, copies them to release and writes rev-manifest.json",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask(fmt.Sprintf("Fingerprinting %s", args[0]))
		manifest, err := assets.Rev(args[0], args[1])
		if err != nil {
			return err
		}

		pkg.PrintSubtask(fmt.Sprintf("%d files renamed", len(manifest)))
		return nil
	},
}

var precacheCmd = &cobra.Command{
	Use:   "precache <release>",
	Short: "Generates the offline cache manifest and service worker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask(fmt.Sprintf("Generating %s", assets.ServiceWorkerName))
		entries, err := assets.Precache(args[0])
		if err != nil {
			return err
		}

		pkg.PrintSubtask(fmt.Sprintf("%d files cached", len(entries)))
		return nil
	},
}

var compressCmd = &cobra.Command{
	Use:   "compress <dir>",
	Short: "Writes brotli and gzip versions of all text assets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		targets, err := assets.CompressTargets(args[0])
		if err != nil {
			return err
		}

		pkg.PrintTask(fmt.Sprintf("Compressing %s", args[0]))
		_, err = assets.Compress(args[0], getProgressBar(len(targets), "  compress"))
		return err
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <dir> <dest.tar.xz>",
	Short: "Packs a directory into a .tar.xz archive",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pkg.PrintTask(fmt.Sprintf("Packing %s", args[1]))
		// -1 turns the bar into a spinner since the file count isn't known up front
		if err := assets.Archive(args[0], args[1], getProgressBar(-1, "   archive")); err != nil {
			pkg.PrintError(err.Error())
			return err
		}

		pkg.PrintTask("Done")
		return nil
	},
}

func init() {
	toolCmd.AddCommand(revCmd)
	toolCmd.AddCommand(precacheCmd)
	toolCmd.AddCommand(compressCmd)
	toolCmd.AddCommand(archiveCmd)
}
