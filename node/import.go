package node

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/invsync/reconcile"
	"github.com/overlaydex/go-overlay/invsync/types"
)

// ImportFiles adds the content of every file in paths to store as an add
// request. It returns the number of requests that changed the store.
func ImportFiles(
	ctx context.Context,
	logger *zap.Logger,
	fs afero.Fs,
	store reconcile.DataService,
	category types.Category,
	seq uint32,
	created int64,
	paths ...string,
) (int, error) {
	changes := 0
	for _, path := range paths {
		payload, err := afero.ReadFile(fs, path)
		if err != nil {
			return changes, fmt.Errorf("read %s: %w", path, err)
		}
		req := types.NewAddRequest(category, seq, payload, created)
		changed, err := store.ProcessAddDataRequest(ctx, &req)
		if err != nil {
			return changes, fmt.Errorf("import %s: %w", path, err)
		}
		if changed {
			changes++
		}
		logger.Info("imported",
			zap.String("file", path),
			zap.Stringer("key", req.Key),
			zap.Bool("changed", changed),
		)
	}
	return changes, nil
}
