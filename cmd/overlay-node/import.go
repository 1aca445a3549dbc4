package main

import (
	"fmt"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/overlaydex/go-overlay/cmd"
	"github.com/overlaydex/go-overlay/config"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/node"
)

var (
	importCategory string
	importSequence uint32
)

// importCmd adds files to the local data store of a stopped node.
// Connected peers pick them up with the next inventory request.
var importCmd = &cobra.Command{
	Use:   "import [files...]",
	Short: "add files to the local data store",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(c *cobra.Command, args []string) error {
		conf, err := cmd.LoadConfig(c)
		if err != nil {
			return err
		}
		category, err := types.ParseCategory(importCategory)
		if err != nil {
			return err
		}
		logger, err := conf.LOGGING.NewLogger(config.StoreLogger)
		if err != nil {
			return err
		}
		app := node.New(node.WithConfig(conf), node.WithLog(logger))
		if err := app.Lock(); err != nil {
			return fmt.Errorf("getting exclusive file lock: %w", err)
		}
		defer app.Unlock()
		db, store, err := node.OpenStore(conf, logger.Named("db"), logger)
		if err != nil {
			return err
		}
		defer db.Close()
		_, err = node.ImportFiles(c.Context(), logger, afero.NewOsFs(), store,
			category, importSequence, time.Now().UnixMilli(), args...)
		return err
	},
}

func init() {
	importCmd.Flags().StringVar(&importCategory, "category", types.Mailbox.String(),
		"category of the imported items")
	importCmd.Flags().Uint32Var(&importSequence, "seq", 1, "sequence number of the imported items")
}
