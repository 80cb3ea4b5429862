package commands

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codestory-dev/codestory/pkg/orchestrator"
)

func TestModeFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fix", string(modeFor(orchestrator.Fix)))
	assert.Equal(t, "clean", string(modeFor(orchestrator.Clean)))
	assert.Equal(t, "commit", string(modeFor(orchestrator.Commit)))
}

func TestDestRefFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HEAD", destRefFor(orchestrator.Commit, ""))
	assert.Equal(t, "HEAD", destRefFor(orchestrator.Fix, ""))
	assert.Equal(t, "abc123", destRefFor(orchestrator.Fix, "abc123"))
	assert.Equal(t, "refs/heads/feature", destRefFor(orchestrator.Clean, "refs/heads/feature"))
}

func TestConfirmAcceptsYVariants(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"y\n", "Y\n", "yes\n"} {
		r, w, err := os.Pipe()
		require.NoError(t, err)

		_, writeErr := w.WriteString(input)
		require.NoError(t, writeErr)
		require.NoError(t, w.Close())

		assert.True(t, confirm(r), "input %q should confirm", input)

		r.Close()
	}
}

func TestConfirmRejectsOtherInput(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"n\n", "no\n", "\n", "maybe\n"} {
		r, w, err := os.Pipe()
		require.NoError(t, err)

		_, writeErr := w.WriteString(input)
		require.NoError(t, writeErr)
		require.NoError(t, w.Close())

		assert.False(t, confirm(r), "input %q should not confirm", input)

		r.Close()
	}
}

func TestConfirmEOFRejects(t *testing.T) {
	t.Parallel()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.False(t, confirm(r))

	r.Close()
}

func TestBindFlagsLayersCLIOverViperDefaults(t *testing.T) {
	t.Parallel()

	v := viper.New()
	v.SetDefault("model.intent", "default intent")

	cmd := &cobra.Command{Use: "commit"}
	cmd.Flags().String("intent", "", "free-text description")

	require.NoError(t, cmd.Flags().Set("intent", "fix the login bug"))

	require.NoError(t, bindFlags(v, cmd, map[string]string{"intent": "model.intent"}))

	assert.Equal(t, "fix the login bug", v.GetString("model.intent"))
}

func TestBindFlagsSkipsUnknownFlag(t *testing.T) {
	t.Parallel()

	v := viper.New()
	cmd := &cobra.Command{Use: "fix"}

	err := bindFlags(v, cmd, map[string]string{"nonexistent": "some.key"})
	require.NoError(t, err)
}

func TestNewCommitCommandHasIntentFlag(t *testing.T) {
	t.Parallel()

	cmd := NewCommitCommand()
	assert.Equal(t, "commit", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("intent"))
}

func TestNewFixCommandRequiresExactlyOneArg(t *testing.T) {
	t.Parallel()

	cmd := NewFixCommand()
	assert.Equal(t, "fix <rev>", cmd.Use)
	assert.Error(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"HEAD~1"}))
}

func TestNewCleanCommandAllowsZeroOrOneArg(t *testing.T) {
	t.Parallel()

	cmd := NewCleanCommand()
	assert.NoError(t, cmd.Args(cmd, nil))
	assert.NoError(t, cmd.Args(cmd, []string{"main"}))
	assert.Error(t, cmd.Args(cmd, []string{"main", "extra"}))
}

func TestRegisterGlobalFlags(t *testing.T) {
	t.Parallel()

	root := &cobra.Command{Use: "codestory"}
	RegisterGlobalFlags(root)

	for _, name := range []string{"repo", "config", "auto-accept", "silent", "verbose"} {
		assert.NotNil(t, root.PersistentFlags().Lookup(name), "expected persistent flag %q", name)
	}
}
