// Package cli implements the safe command-line client.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abdul-hamid-achik/safe/internal/client"
	"github.com/abdul-hamid-achik/safe/internal/cliout"
	"github.com/abdul-hamid-achik/safe/internal/config"
)

var (
	jsonOutput bool
	quietMode  bool
	serverURL  string
	token      string

	apiClient *client.Client
	printer   *cliout.Printer

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

var rootCmd = &cobra.Command{
	Use:     "safe",
	Short:   "safe CLI - upload and manage files on a safe host",
	Version: config.Version,
	Long: `safe is the command-line client for a safe file host.

Get started:
  safe upload photo.jpg       # Upload a file
  safe list                   # List your uploads
  safe delete name abcd1234.png`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		rootCtx, rootCancel = context.WithCancel(context.Background())
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigCh
			rootCancel()
		}()

		if serverURL == "" {
			serverURL = os.Getenv("SAFE_SERVER")
		}
		if serverURL == "" {
			serverURL = "http://localhost:9999"
		}
		if token == "" {
			token = os.Getenv("SAFE_TOKEN")
		}
		apiClient = client.New(serverURL, token)
		printer = cliout.New(cliout.WithJSON(jsonOutput), cliout.WithQuiet(quietMode))
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output machine-readable JSON")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server base URL (default $SAFE_SERVER)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "API token (default $SAFE_TOKEN)")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(albumCmd)
}

// Execute runs the CLI.
func Execute() error {
	defer func() {
		if rootCancel != nil {
			rootCancel()
		}
	}()
	return rootCmd.Execute()
}
