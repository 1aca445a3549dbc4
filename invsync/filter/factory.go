package filter

import (
	"fmt"
	"slices"

	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

// NewService returns the filter service implementing t over storage.
// Declared filter types without an implementation fail with ErrNotImplemented.
func NewService(t types.FilterType, storage StorageService, opts ...Opt) (FilterService, error) {
	switch t {
	case types.HashSet:
		return NewHashSetFilterService(storage, opts...), nil
	case types.MiniSketch:
		return nil, fmt.Errorf("%w: %s", ErrNotImplemented, t)
	}
	return nil, fmt.Errorf("%w: %s", ErrNotImplemented, t)
}

// Factory negotiates the filter type used with a peer and dispatches to the
// matching FilterService.
type Factory struct {
	preferred []types.FilterType
	services  map[types.FilterType]FilterService
}

// NewFactory creates a Factory for the preferred filter types, most preferred
// first. Every preferred type must have a service.
func NewFactory(preferred []types.FilterType, services ...FilterService) (*Factory, error) {
	if len(preferred) == 0 {
		return nil, ErrNoFilterTypes
	}
	f := &Factory{
		preferred: slices.Clone(preferred),
		services:  make(map[types.FilterType]FilterService, len(services)),
	}
	for _, svc := range services {
		f.services[svc.Type()] = svc
	}
	for _, t := range f.preferred {
		if _, exists := f.services[t]; !exists {
			return nil, fmt.Errorf("%w: preferred filter type %s has no service", ErrNotImplemented, t)
		}
	}
	return f, nil
}

// Select returns the first preferred filter type advertised in features.
// The second return value is false if the peer supports none of them.
func (f *Factory) Select(features []p2p.Feature) (types.FilterType, bool) {
	for _, t := range f.preferred {
		if p2p.HasFeature(features, t.Feature()) {
			return t, true
		}
	}
	return 0, false
}

// Service returns the service for t.
func (f *Factory) Service(t types.FilterType) (FilterService, bool) {
	svc, exists := f.services[t]
	return svc, exists
}

// Preferred returns the preferred filter types, most preferred first.
func (f *Factory) Preferred() []types.FilterType {
	return slices.Clone(f.preferred)
}

// Features returns the capabilities to advertise for the preferred filter types.
func (f *Factory) Features() []p2p.Feature {
	features := make([]p2p.Feature, 0, len(f.preferred))
	for _, t := range f.preferred {
		features = append(features, t.Feature())
	}
	return features
}
