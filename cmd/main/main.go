package main

import (
	"fmt"
	"os"

	"weibomcp/internal/version"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "weibo-mcp",
		Short: "Weibo MCP Server - bridge MCP tool calls to Weibo content",
		Long: `weibo-mcp is an MCP server that exposes Weibo content as typed tools:
user search, profiles, feeds, post search and post details. It speaks MCP
over stdio or streamable HTTP and manages the upstream session, rate limits
and pagination on behalf of the caller.`,
		Version: version.GetVersionString(),
		// Running with no arguments starts the server.
		RunE: runServe,
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./weibo-mcp.yaml)")

	serveCmd.Flags().String("transport", "", "transport mode: stdio or http")
	serveCmd.Flags().Int("port", 0, "MCP port for the http transport")
	serveCmd.Flags().Bool("debug", false, "enable debug logging")

	viper.BindPFlag("transport", serveCmd.Flags().Lookup("transport"))
	viper.BindPFlag("mcp_port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("debug", serveCmd.Flags().Lookup("debug"))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("weibo-mcp")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("WEIBO_MCP")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
