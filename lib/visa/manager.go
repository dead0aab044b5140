package visa

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Backend lists and opens resources of one interface type.
type Backend interface {
	// Interface returns the Interface* constant the backend serves.
	Interface() string
	// List returns the resource strings the backend can currently reach.
	List() ([]string, error)
	// Open opens a session to r.
	Open(ctx context.Context, r Resource, timeout time.Duration) (Session, error)
}

// ResourceManager enumerates and opens resources across backends.
type ResourceManager struct {
	backends []Backend
}

// NewResourceManager returns a manager listing backends in the given order.
func NewResourceManager(backends ...Backend) *ResourceManager {
	return &ResourceManager{backends: backends}
}

// ListResources returns every resource reachable by the backends. A failing
// backend does not hide the others: the partial list is returned together
// with the combined errors.
func (m *ResourceManager) ListResources() ([]string, error) {
	var (
		all  []string
		errs error
	)
	for _, b := range m.backends {
		res, err := b.List()
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("listing %s resources: %w", b.Interface(), err))
			continue
		}
		all = append(all, res...)
	}
	return all, errs
}

// Open parses addr and opens it with the matching backend. A non-positive
// timeout selects DefaultTimeout.
func (m *ResourceManager) Open(ctx context.Context, addr string, timeout time.Duration) (Session, error) {
	r, err := ParseResource(addr)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	for _, b := range m.backends {
		if b.Interface() != r.Interface {
			continue
		}
		s, err := b.Open(ctx, r, timeout)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", addr, err)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownResource, addr)
}
