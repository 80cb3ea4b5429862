// Package commands implements CLI command handlers for codestory.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/codestory-dev/codestory/pkg/config"
	"github.com/codestory-dev/codestory/pkg/gitlib"
	"github.com/codestory-dev/codestory/pkg/modelprovider"
	"github.com/codestory-dev/codestory/pkg/observability"
	"github.com/codestory-dev/codestory/pkg/orchestrator"
)

// globalFlags holds the persistent flags shared by every subcommand.
type globalFlags struct {
	repoPath   string
	configPath string
	autoAccept bool
	silent     bool
	verbose    bool
}

var flags globalFlags

// RegisterGlobalFlags attaches the options shared by commit/fix/clean to root.
func RegisterGlobalFlags(root *cobra.Command) {
	root.PersistentFlags().StringVar(&flags.repoPath, "repo", ".", "path to the git repository")
	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "explicit config file, overrides repository-local .codestory.yaml")
	root.PersistentFlags().BoolVar(&flags.autoAccept, "auto-accept", false, "apply the plan without an interactive confirmation prompt")
	root.PersistentFlags().BoolVar(&flags.silent, "silent", false, "suppress the dry-run preview")
	root.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "verbose logging")
}

// runContext bundles everything a mode handler needs once configuration,
// the repository, and observability providers have been resolved.
type runContext struct {
	ctx      context.Context
	cancel   context.CancelFunc
	repo     *gitlib.Repository
	cfg      config.Config
	viper    *viper.Viper
	obs      observability.Providers
	provider modelprovider.Provider
}

// bindFlags layers a cobra command's own flags onto the viper instance
// config.LoadConfig returns, so CLI flags sit above repository config and
// below nothing (the CLI layer is the final, highest-priority override).
func bindFlags(v *viper.Viper, cmd *cobra.Command, bindings map[string]string) error {
	for flagName, key := range bindings {
		f := cmd.Flags().Lookup(flagName)
		if f == nil {
			continue
		}

		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", flagName, err)
		}
	}

	return nil
}

func newRunContext(cmd *cobra.Command, mode observability.AppMode, flagBindings map[string]string) (*runContext, error) {
	repoRoot := flags.repoPath

	v, cfg, err := config.LoadConfig(flags.configPath, repoRoot)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := bindFlags(v, cmd, flagBindings); err != nil {
		return nil, err
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("apply CLI flags to config: %w", err)
	}

	if flags.autoAccept {
		cfg.UX.AutoAccept = true
	}

	if flags.silent {
		cfg.UX.Silent = true
	}

	if flags.verbose {
		cfg.UX.Verbose = true
	}

	obsCfg := observability.DefaultConfig()
	obsCfg.Mode = mode
	obsCfg.TraceVerbose = cfg.UX.Verbose

	obs, err := observability.Init(obsCfg)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	repo, err := gitlib.OpenRepository(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}

	provider, err := modelprovider.New(cfg.Model.Name, cfg.Model.APIBase, cfg.Model.APIKey, cfg.Model.Name)
	if err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &runContext{
		ctx: ctx, cancel: cancel,
		repo: repo, cfg: *cfg, viper: v,
		obs: obs, provider: provider,
	}, nil
}

// obsShutdownTimeout bounds how long final telemetry flush may block process exit.
const obsShutdownTimeout = 5 * time.Second

func (rc *runContext) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), obsShutdownTimeout)
	defer cancel()

	_ = rc.obs.Shutdown(shutdownCtx)
	rc.repo.Free()
	rc.cancel()
}

// printPlan renders a dry-run preview of the ordered logical groups as a
// table (group index, commit message, file count) followed by each group's
// diff, rendered per diffType ("unified" or a word/line-level diff).
func printPlan(plan *orchestrator.Plan, diffType string) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"#", "Message", "Files"})

	for i, g := range plan.Groups {
		t.AppendRow(table.Row{i + 1, g.Message, len(g.Files())})
	}

	t.Render()

	for i, g := range plan.Groups {
		fmt.Fprintf(os.Stdout, "\n[%d] %s\n", i+1, g.Message)
		renderGroupDiff(os.Stdout, g, diffType)
	}

	if len(plan.Rejections) > 0 {
		color.New(color.FgYellow).Fprintf(os.Stdout, "\n%d group(s) filtered out:\n", len(plan.Rejections))

		for _, r := range plan.Rejections {
			color.New(color.FgYellow).Fprintf(os.Stdout, "  - %s: %s\n", r.Reason, r.Detail)
		}
	}
}

// confirm prompts the user to accept the plan unless auto-accept is set.
func confirm(stdin *os.File) bool {
	fmt.Fprint(os.Stdout, "Apply this plan? [y/N] ")

	reader := bufio.NewReader(stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	return line == "y\n" || line == "Y\n" || line == "yes\n"
}
