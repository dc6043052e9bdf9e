package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"pull", "migrate", "imports", "markets", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "rankings-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestPullCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"market", "days", "from", "to", "dry-run"} {
		flag := pullCmd.Flags().Lookup(flagName)
		assert.NotNil(t, flag, "pull should have --%s flag", flagName)
	}
}

func TestImportsCommand_Flags(t *testing.T) {
	flag := importsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag, "imports command should have --limit flag")
	assert.Equal(t, "50", flag.DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}
