package reconcile

import (
	"context"

	"github.com/overlaydex/go-overlay/invsync/types"
)

//go:generate mockgen -typed -package=reconcile -destination=./mocks_test.go -source=./interface.go

// DataService applies replication events to the local data store.
// Duplicates must be absorbed idempotently; the returned bool reports whether
// the store changed.
type DataService interface {
	ProcessAddDataRequest(ctx context.Context, req *types.DataRequest) (bool, error)
	ProcessRemoveDataRequest(ctx context.Context, req *types.DataRequest) (bool, error)
}
