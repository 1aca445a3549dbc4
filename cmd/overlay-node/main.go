// overlay-node runs a node of the overlay network that keeps its data store
// reconciled with connected peers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/cmd"
	"github.com/overlaydex/go-overlay/config"
	"github.com/overlaydex/go-overlay/node"
)

var (
	version string
	commit  string
	branch  string
)

var rootCmd = &cobra.Command{
	Use:          "overlay-node",
	Short:        "start overlay node",
	SilenceUsage: true,
	RunE: func(c *cobra.Command, _ []string) error {
		conf, err := cmd.LoadConfig(c)
		if err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		logger, err := conf.LOGGING.NewLogger(config.AppLogger)
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		app := node.New(node.WithConfig(conf), node.WithLog(logger))
		if err := app.Lock(); err != nil {
			return fmt.Errorf("getting exclusive file lock: %w", err)
		}
		defer app.Unlock()

		err = app.Initialize(ctx)
		if err == nil {
			err = app.Start(ctx)
		}
		if cerr := app.Cleanup(); cerr != nil {
			logger.Error("failed to clean up", zap.Error(cerr))
		}
		if err != nil {
			logger.Error("failed to run the node", zap.Error(err))
			return err
		}
		return nil
	},
}

// versionCmd returns the current version of the node.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version info",
	Run: func(*cobra.Command, []string) {
		fmt.Print(cmd.Version)
		if cmd.Commit != "" {
			fmt.Printf("+%s", cmd.Commit)
		}
		if cmd.Branch != "" {
			fmt.Printf(" (%s)", cmd.Branch)
		}
		fmt.Println()
	},
}

func init() {
	cmd.AddCommands(rootCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(importCmd)
}

func main() {
	cmd.Version = version
	cmd.Commit = commit
	cmd.Branch = branch
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
