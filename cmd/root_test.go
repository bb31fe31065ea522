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

	expected := []string{"fetch", "layers", "search", "sample", "query", "analyze", "runs", "load", "serve", "tiger"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "tractkit", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
}

func TestAnalyzeCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range analyzeCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"describe", "correlate", "cluster", "counties", "priority", "households", "access-gap", "equity", "all"} {
		assert.True(t, names[name], "analyze should have subcommand %q", name)
	}

	for _, flagName := range []string{"file", "format", "xlsx"} {
		assert.NotNil(t, analyzeCmd.PersistentFlags().Lookup(flagName), "analyze should have --%s", flagName)
	}
}

func TestAnalyzePriority_LimitDefault(t *testing.T) {
	flag := analyzePriorityCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "10", flag.DefValue)

	flag = analyzeHouseholdsCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "20", flag.DefValue)
}

func TestFetchCommand_Flags(t *testing.T) {
	for _, flagName := range []string{"layer-url", "item", "sublayer", "where", "page-size", "max-features", "output", "shapefile", "no-metadata"} {
		assert.NotNil(t, fetchCmd.Flags().Lookup(flagName), "fetch should have --%s flag", flagName)
	}
	assert.Equal(t, "-1", fetchCmd.Flags().Lookup("sublayer").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestTigerCommand_Defaults(t *testing.T) {
	assert.Equal(t, "04", tigerCmd.Flags().Lookup("state").DefValue)
	assert.Equal(t, "2023", tigerCmd.Flags().Lookup("year").DefValue)
}

func TestRunsCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range runsCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["list"])
	assert.True(t, names["show"])
}
