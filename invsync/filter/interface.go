package filter

import (
	"errors"

	"github.com/overlaydex/go-overlay/invsync/types"
)

var (
	// ErrNotImplemented is returned for declared filter types without implementation.
	ErrNotImplemented = errors.New("filter type not implemented")
	// ErrNoFilterTypes is returned when no preferred filter type is configured.
	ErrNoFilterTypes = errors.New("no filter types configured")
)

// StorageService provides the local data store contents.
type StorageService interface {
	// Snapshot returns the latest request for every key held by the store.
	Snapshot() ([]types.DataRequest, error)
}

// FilterService builds filters from local state and answers peers' filters.
type FilterService interface {
	Type() types.FilterType
	// GetFilter returns the filter describing the local store.
	GetFilter() (*types.DataFilter, error)
	// CreateInventory returns the local entries missing from filter, packed
	// into maxSizeBytes.
	CreateInventory(filter *types.DataFilter, maxSizeBytes int) (*types.Inventory, error)
}
