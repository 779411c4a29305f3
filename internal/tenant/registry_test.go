package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheusmosca/tenant-order-engine/internal/domain"
	"github.com/matheusmosca/tenant-order-engine/internal/store"
	"github.com/matheusmosca/tenant-order-engine/internal/store/memory"
)

// countingDriver wraps the memory driver, counts provisioning calls and can
// be told to fail
type countingDriver struct {
	*memory.Driver
	opens   atomic.Int32
	attachs atomic.Int32
	fail    atomic.Bool
	delay   time.Duration
}

func newCountingDriver() *countingDriver {
	return &countingDriver{Driver: memory.New()}
}

func (d *countingDriver) Open(ctx context.Context, tenantID string) (store.Partition, error) {
	d.opens.Add(1)
	time.Sleep(d.delay)
	if d.fail.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return d.Driver.Open(ctx, tenantID)
}

func (d *countingDriver) Attach(ctx context.Context, tenantID string) (store.Partition, error) {
	d.attachs.Add(1)
	if d.fail.Load() {
		return nil, errors.New("dial tcp: connection refused")
	}
	return d.Driver.Attach(ctx, tenantID)
}

func TestResolve_ConcurrentFirstCallsShareOneHandle(t *testing.T) {
	// Arrange
	driver := newCountingDriver()
	driver.delay = 20 * time.Millisecond
	reg := NewRegistry(driver)

	// Act
	const callers = 16
	handles := make([]*Handle, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := reg.Resolve(context.Background(), "shop1")
			assert.NoError(t, err)
			handles[i] = h
		}(i)
	}
	wg.Wait()

	// Assert
	for _, h := range handles {
		assert.Same(t, handles[0], h)
	}
	assert.Equal(t, "shop1", handles[0].ID)
	assert.LessOrEqual(t, driver.opens.Load(), int32(2))
}

func TestResolve_CachesForProcessLifetime(t *testing.T) {
	driver := newCountingDriver()
	reg := NewRegistry(driver)
	ctx := context.Background()

	h1, err := reg.Resolve(ctx, "shop1")
	require.NoError(t, err)
	h2, err := reg.Resolve(ctx, "shop1")
	require.NoError(t, err)

	assert.Same(t, h1, h2)
	assert.Equal(t, int32(1), driver.opens.Load())
}

func TestResolve_FailureIsNotCached(t *testing.T) {
	driver := newCountingDriver()
	reg := NewRegistry(driver)
	ctx := context.Background()

	driver.fail.Store(true)
	_, err := reg.Resolve(ctx, "shop1")
	assert.ErrorIs(t, err, domain.ErrTenantUnavailable)

	driver.fail.Store(false)
	h, err := reg.Resolve(ctx, "shop1")
	require.NoError(t, err)
	assert.Equal(t, "shop1", h.TenantID())
	assert.Equal(t, int32(2), driver.opens.Load())
}

func TestResolve_InvalidTenantNeverReachesStorage(t *testing.T) {
	driver := newCountingDriver()
	reg := NewRegistry(driver)

	for _, id := range []string{"", "a-b", "shop 1", "ção"} {
		_, err := reg.Resolve(context.Background(), id)
		assert.ErrorIs(t, err, domain.ErrInvalidTenant, id)
	}
	assert.Zero(t, driver.opens.Load())
}

func TestResolve_TenantsAreIsolated(t *testing.T) {
	reg := NewRegistry(memory.New())
	ctx := context.Background()

	a, err := reg.Resolve(ctx, "shopA")
	require.NoError(t, err)
	b, err := reg.Resolve(ctx, "shopB")
	require.NoError(t, err)

	assert.NotSame(t, a.Partition, b.Partition)
}

func TestLookup_NeverProvisions(t *testing.T) {
	driver := newCountingDriver()
	reg := NewRegistry(driver)
	ctx := context.Background()

	_, err := reg.Lookup(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
	assert.Zero(t, driver.opens.Load())

	_, err = reg.Resolve(ctx, "ghost")
	require.NoError(t, err)

	h, err := reg.Lookup(ctx, "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", h.ID)
}

func TestLookup_UnreachableStorage(t *testing.T) {
	driver := newCountingDriver()
	driver.fail.Store(true)
	reg := NewRegistry(driver)

	_, err := reg.Lookup(context.Background(), "shop1")

	assert.ErrorIs(t, err, domain.ErrTenantUnavailable)
}

func TestReset_DropsHandles(t *testing.T) {
	driver := newCountingDriver()
	reg := NewRegistry(driver)
	ctx := context.Background()

	_, err := reg.Resolve(ctx, "shop1")
	require.NoError(t, err)
	reg.Reset()
	_, err = reg.Resolve(ctx, "shop1")
	require.NoError(t, err)

	assert.Equal(t, int32(2), driver.opens.Load())
	assert.NoError(t, reg.Ping(ctx))
}

// gatedDriver holds Open until released or until its ctx ends
type gatedDriver struct {
	*memory.Driver
	opens   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (d *gatedDriver) Open(ctx context.Context, tenantID string) (store.Partition, error) {
	if d.opens.Add(1) == 1 {
		close(d.started)
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-d.release:
		return d.Driver.Open(ctx, tenantID)
	}
}

func TestResolve_CancelledFirstCallerDoesNotFailOthers(t *testing.T) {
	// Arrange
	driver := &gatedDriver{Driver: memory.New(), started: make(chan struct{}), release: make(chan struct{})}
	reg := NewRegistry(driver)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := reg.Resolve(ctxA, "shop1")
		errA <- err
	}()
	<-driver.started

	type result struct {
		h   *Handle
		err error
	}
	resB := make(chan result, 1)
	go func() {
		h, err := reg.Resolve(context.Background(), "shop1")
		resB <- result{h, err}
	}()

	// Act
	cancelA()
	err := <-errA
	time.Sleep(20 * time.Millisecond)
	close(driver.release)
	b := <-resB

	// Assert
	assert.ErrorIs(t, err, context.Canceled)
	require.NoError(t, b.err)
	assert.Equal(t, "shop1", b.h.ID)
	assert.Equal(t, int32(1), driver.opens.Load())

	h, err := reg.Resolve(context.Background(), "shop1")
	require.NoError(t, err)
	assert.Same(t, b.h, h)
}
