package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"lookup", "serve", "migrate", "cache", "config"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "catastro-cli", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentPreRunE)
}

func TestLookupCommand_Flags(t *testing.T) {
	flag := lookupCmd.Flags().Lookup("no-cache")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)

	require.NotNil(t, lookupCmd.Flags().Lookup("compact"))
	assert.Error(t, lookupCmd.Args(lookupCmd, nil), "a reference is required")
	assert.NoError(t, lookupCmd.Args(lookupCmd, []string{"9872023VH5797S0001WX"}))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("check-interval")
	require.NotNil(t, flag)
	assert.Equal(t, "1m0s", flag.DefValue)
}

func TestCacheCommand_HasShow(t *testing.T) {
	var found bool
	for _, c := range cacheCmd.Commands() {
		if c.Name() == "show" {
			found = true
		}
	}
	assert.True(t, found)
	require.NotNil(t, cacheShowCmd.Flags().Lookup("xml"))
}
