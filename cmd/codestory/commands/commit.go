package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/observability"
	"github.com/codestory-dev/codestory/pkg/orchestrator"
)

// NewCommitCommand decomposes the current working-tree delta against HEAD.
func NewCommitCommand() *cobra.Command {
	var intent string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Decompose the current working-tree delta against HEAD into atomic commits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMode(cmd, orchestrator.Commit, "", map[string]string{
				"intent": "model.intent",
			})
		},
	}

	cmd.Flags().StringVar(&intent, "intent", "", "free-text description of the change's purpose, used by the relevance filter")

	return cmd
}

// NewFixCommand re-derives history for a single existing commit.
func NewFixCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fix <rev>",
		Short: "Re-derive history for a single existing commit against its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMode(cmd, orchestrator.Fix, args[0], nil)
		},
	}

	return cmd
}

// NewCleanCommand re-derives history across a commit range.
func NewCleanCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clean [<rev>]",
		Short: "Re-derive history across a commit range, stopping at the first merge commit",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := ""
			if len(args) == 1 {
				target = args[0]
			}

			return runMode(cmd, orchestrator.Clean, target, nil)
		},
	}

	return cmd
}

func runMode(cmd *cobra.Command, mode orchestrator.Mode, target string, flagBindings map[string]string) error {
	rc, err := newRunContext(cmd, modeFor(mode), flagBindings)
	if err != nil {
		return err
	}
	defer rc.close()

	orc := orchestrator.New(rc.repo, orchestrator.Options{
		Mode:     mode,
		Target:   target,
		Config:   rc.cfg,
		Logger:   rc.obs.Logger,
		Provider: rc.provider,
		RunID:    fmt.Sprintf("%d", time.Now().UnixNano()),
	})

	plan, err := orc.Plan(rc.ctx)
	if err != nil {
		return err
	}

	if !rc.cfg.UX.Silent {
		printPlan(plan, rc.cfg.UX.DisplayDiffType)
	}

	if !rc.cfg.UX.AutoAccept && !confirm(os.Stdin) {
		return nil
	}

	author := gitlib.Signature{Name: "codestory", Email: "codestory@localhost", When: time.Now()}

	destRef := destRefFor(mode, target)

	finalCommit, err := orc.Apply(rc.ctx, plan, destRef, author, author)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Wrote %d commit(s), %s now at %s\n", len(plan.Groups), destRef, finalCommit.String())

	return nil
}

func modeFor(m orchestrator.Mode) observability.AppMode {
	switch m {
	case orchestrator.Fix:
		return observability.ModeFix
	case orchestrator.Clean:
		return observability.ModeClean
	default:
		return observability.ModeCommit
	}
}

// destRefFor picks which ref Apply updates under compare-and-swap: the
// current branch for a plain commit run, or the resolved target itself for
// fix/clean, which operate on an already-named ref or commit.
func destRefFor(mode orchestrator.Mode, target string) string {
	if mode == orchestrator.Commit || target == "" {
		return "HEAD"
	}

	return target
}
