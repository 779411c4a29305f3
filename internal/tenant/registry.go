// Package tenant maps tenant identifiers to their storage partitions.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
)

// Handle is the resolved partition of one tenant. Every operation of a
// request runs against the same handle.
type Handle struct {
	ID string
	store.Partition
}

// DefaultProvisionTimeout bounds one shared Open or Attach
const DefaultProvisionTimeout = 30 * time.Second

// Registry caches one handle per tenant for the life of the process
type Registry struct {
	driver  store.Driver
	group   singleflight.Group
	timeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle
}

// NewRegistry creates a registry backed by driver
func NewRegistry(driver store.Driver) *Registry {
	return &Registry{
		driver:  driver,
		timeout: DefaultProvisionTimeout,
		handles: make(map[string]*Handle),
	}
}

// Resolve returns the tenant handle, provisioning the partition on first use.
// Concurrent first calls for the same id share one provisioning attempt.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (*Handle, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrInvalidTenant
	}
	if h, ok := r.cached(tenantID); ok {
		return h, nil
	}

	h, err := r.shared(ctx, "open:", tenantID, r.driver.Open)
	if err != nil {
		log.Printf("❌ [TENANT] Resolve failed: Tenant=%s, Error=%v", tenantID, err)
		return nil, unavailable(err)
	}
	return h, nil
}

// Lookup returns the handle of an already provisioned tenant. It never
// creates a partition, so it is safe on unauthenticated paths.
func (r *Registry) Lookup(ctx context.Context, tenantID string) (*Handle, error) {
	if !store.ValidTenantID(tenantID) {
		return nil, domain.ErrTenantNotFound
	}
	if h, ok := r.cached(tenantID); ok {
		return h, nil
	}

	h, err := r.shared(ctx, "attach:", tenantID, r.driver.Attach)
	if err != nil {
		if errors.Is(err, domain.ErrTenantNotFound) {
			return nil, err
		}
		return nil, unavailable(err)
	}
	return h, nil
}

// Reset drops every cached handle
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handles = make(map[string]*Handle)
}

// Ping checks the backing storage
func (r *Registry) Ping(ctx context.Context) error {
	return r.driver.Ping(ctx)
}

// shared runs one open/attach per tenant for every concurrent caller. The
// call is detached from the caller that started it: each caller only stops
// waiting when its own ctx ends.
func (r *Registry) shared(ctx context.Context, prefix, tenantID string, open func(context.Context, string) (store.Partition, error)) (*Handle, error) {
	ch := r.group.DoChan(prefix+tenantID, func() (any, error) {
		if h, ok := r.cached(tenantID); ok {
			return h, nil
		}
		openCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()

		p, err := open(openCtx, tenantID)
		if err != nil {
			return nil, err
		}
		return r.insert(tenantID, p), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Handle), nil
	}
}

func (r *Registry) cached(tenantID string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[tenantID]
	return h, ok
}

// insert adds the handle unless another caller won the race
func (r *Registry) insert(tenantID string, p store.Partition) *Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.handles[tenantID]; ok {
		return h
	}
	h := &Handle{ID: tenantID, Partition: p}
	r.handles[tenantID] = h
	return h
}

// unavailable keeps typed errors and tags everything else as unreachable storage
func unavailable(err error) error {
	if domain.IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrTenantUnavailable, err)
}
