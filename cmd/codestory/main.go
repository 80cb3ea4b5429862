// Package main provides the entry point for the codestory CLI tool.
package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codestory-dev/codestory/cmd/codestory/commands"
	"github.com/codestory-dev/codestory/pkg/errkind"
	"github.com/codestory-dev/codestory/pkg/version"
)

// ensureMallocTunables re-execs the process with glibc malloc arena env vars
// set before the first malloc() call, which is the only point libgit2 and
// tree-sitter's concurrent CGO allocations can be kept from fragmenting the
// default 8-arenas-per-core heap under a long decomposition run.
func ensureMallocTunables() {
	if os.Getenv("MALLOC_ARENA_MAX") != "" {
		return
	}

	exe, err := os.Executable()
	if err != nil {
		return
	}

	os.Setenv("MALLOC_ARENA_MAX", "2")
	os.Setenv("MALLOC_MMAP_THRESHOLD_", "32768")
	os.Setenv("MALLOC_TRIM_THRESHOLD_", "16384")

	_ = syscall.Exec(exe, os.Args, os.Environ())
}

func main() {
	ensureMallocTunables()

	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "codestory",
		Short: "Turn an unstructured change into a reviewable commit history",
		Long: `codestory decomposes a working-tree delta or an existing commit into a
linear sequence of atomic, logically-grouped commits that reproduce the
same final tree.

Commands:
  commit    Decompose the current working-tree delta against HEAD
  fix       Re-derive history for a single existing commit
  clean     Re-derive history across a commit range`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	commands.RegisterGlobalFlags(rootCmd)

	rootCmd.AddCommand(commands.NewCommitCommand())
	rootCmd.AddCommand(commands.NewFixCommand())
	rootCmd.AddCommand(commands.NewCleanCommand())
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(errkind.Code(err)))
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "codestory %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
