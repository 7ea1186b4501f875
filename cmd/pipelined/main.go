package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tokligence/ragflow-pipeline/internal/version"
)

var (
	configRoot string
	listenAddr string

	rootCmd = &cobra.Command{
		Use:   "pipelined",
		Short: "Serve a RAGFlow chat assistant as a pipelines-compatible model",
		Long: `pipelined maps front-end conversations onto RAGFlow sessions and
streams RAGFlow answers back as OpenAI-style completions.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (default)",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configRoot, "config-root", ".", "directory holding config/setting.ini")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "override http_address")
	rootCmd.AddCommand(serveCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
