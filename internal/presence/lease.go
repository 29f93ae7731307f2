package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"

	"softphone/internal/softphone"
	"softphone/pkg/utils"
)

var ErrDeviceHeld = errors.New("presence: identity has a live device elsewhere")

const leasePrefix = "softphone:device-lease:"

// Leaser grants one live device per identity. holder names the device that
// owns the lease; Renew and Release only act on a lease holder still owns.
type Leaser interface {
	Acquire(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, id softphone.Identity, holder string) error
}

// RedisLeaser holds leases in Redis.
type RedisLeaser struct {
	rdb redis.Cmdable
}

func NewRedisLeaser(rdb redis.Cmdable) *RedisLeaser {
	return &RedisLeaser{rdb: rdb}
}

func (l *RedisLeaser) Acquire(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, leasePrefix+string(id), holder, ttl)
}

// Renew refreshes the TTL; AcquireLease is reentrant for the same holder.
func (l *RedisLeaser) Renew(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, leasePrefix+string(id), holder, ttl)
}

func (l *RedisLeaser) Release(ctx context.Context, id softphone.Identity, holder string) error {
	return utils.ReleaseLease(ctx, l.rdb, leasePrefix+string(id), holder)
}

// MemoryLeaser is a process-local Leaser for single-instance runs and tests.
type MemoryLeaser struct {
	mu   sync.Mutex
	held map[softphone.Identity]string
}

func NewMemoryLeaser() *MemoryLeaser {
	return &MemoryLeaser{held: make(map[softphone.Identity]string)}
}

// Acquire succeeds when id is free or already held by holder. The ttl is
// ignored.
func (l *MemoryLeaser) Acquire(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[id]; ok && cur != holder {
		return false, nil
	}
	l.held[id] = holder
	return true, nil
}

func (l *MemoryLeaser) Renew(ctx context.Context, id softphone.Identity, holder string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held[id] == holder, nil
}

func (l *MemoryLeaser) Release(ctx context.Context, id softphone.Identity, holder string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[id] == holder {
		delete(l.held, id)
	}
	return nil
}

// LeasedFactory builds devices for one identity only while it holds the
// identity's lease. Each device holds the lease under its own token; the lease
// is renewed while the device lives and released when it is destroyed.
type LeasedFactory struct {
	Next     softphone.DeviceFactory
	Leaser   Leaser
	Identity softphone.Identity
	TTL      time.Duration
	Logger   *slog.Logger
}

func (f *LeasedFactory) NewDevice(ctx context.Context, token string, opts softphone.DeviceOptions) (softphone.Device, error) {
	ttl := f.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	holder := uuid.NewString()
	ok, err := f.Leaser.Acquire(ctx, f.Identity, holder, ttl)
	if err != nil {
		return nil, fmt.Errorf("presence: acquire lease: %w", err)
	}
	if !ok {
		return nil, ErrDeviceHeld
	}

	dev, err := f.Next.NewDevice(ctx, token, opts)
	if err != nil {
		return nil, multierr.Append(err, f.Leaser.Release(context.Background(), f.Identity, holder))
	}

	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	ld := &leasedDevice{
		Device: dev,
		leaser: f.Leaser,
		id:     f.Identity,
		holder: holder,
		ttl:    ttl,
		log:    log,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go ld.renew()
	return ld, nil
}

type leasedDevice struct {
	softphone.Device
	leaser Leaser
	id     softphone.Identity
	holder string
	ttl    time.Duration
	log    *slog.Logger

	stop chan struct{}
	done chan struct{}
	once sync.Once
	err  error
}

func (d *leasedDevice) renew() {
	defer close(d.done)
	t := time.NewTicker(d.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			ok, err := d.leaser.Renew(ctx, d.id, d.holder, d.ttl)
			cancel()
			if err != nil || !ok {
				d.log.Warn("device lease renewal failed", "identity", d.id.String(), "held", ok, "err", err)
			}
		}
	}
}

func (d *leasedDevice) Destroy() error {
	d.once.Do(func() {
		close(d.stop)
		<-d.done
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		d.err = multierr.Append(d.Device.Destroy(), d.leaser.Release(ctx, d.id, d.holder))
	})
	return d.err
}
