// Command padawan runs autonomous development missions.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	padawan serve
//	padawan run --owner acme --repo widgets --issue 7
//	padawan watch <mission-id>
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nstogner/padawan/pkg/config"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "padawan",
		Short:         "Autonomous development missions driven by a language model",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./padawan.yaml or ./config/padawan.yaml)")

	load := func() (*config.Config, error) { return config.Load(cfgPath) }
	root.AddCommand(
		serveCmd(load),
		runCmd(load),
		stopCmd(load),
		migrateCmd(load),
		toolsCmd(load),
		tokensCmd(load),
		watchCmd(load),
	)
	return root
}

// loader loads the configuration selected by the --config flag.
type loader func() (*config.Config, error)
