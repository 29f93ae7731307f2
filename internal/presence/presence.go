// Package presence shares agent phone status through Redis.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"softphone/internal/softphone"
)

const (
	// Channel carries every published Record as JSON.
	Channel   = "softphone:presence"
	keyPrefix = "softphone:presence:"

	DefaultTTL = 2 * time.Minute

	writeTimeout = 2 * time.Second
)

var ErrUnknown = errors.New("presence: no status recorded")

// Record is the presence entry of one agent.
type Record struct {
	Identity  string           `json:"identity"`
	Status    softphone.Status `json:"status"`
	CallSID   string           `json:"call_sid,omitempty"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Available reports whether the agent can take a new call.
func (r Record) Available() bool { return r.Status == softphone.StatusReady }

// Store is the subset of the redis client presence needs.
type Store interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

func Key(identity string) string { return keyPrefix + identity }

// Publisher writes each phone change to Redis. It implements softphone.Observer.
type Publisher struct {
	store Store
	ttl   time.Duration
	log   *slog.Logger
	clock func() time.Time
}

func NewPublisher(store Store, ttl time.Duration, log *slog.Logger) *Publisher {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{store: store, ttl: ttl, log: log, clock: time.Now}
}

func (p *Publisher) OnChange(c softphone.Change) {
	s := c.Snapshot
	if s.Identity == "" {
		return
	}
	rec := Record{Identity: string(s.Identity), Status: s.Status, UpdatedAt: p.clock().UTC()}
	if s.Active != nil {
		rec.CallSID = s.Active.CallSID
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.Publish(ctx, rec); err != nil {
		p.log.Warn("presence publish failed", "identity", rec.Identity, "err", err)
	}
}

// Publish stores rec under its key and announces it on Channel.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := p.store.Set(ctx, Key(rec.Identity), b, p.ttl).Err(); err != nil {
		return fmt.Errorf("presence: set: %w", err)
	}
	if err := p.store.Publish(ctx, Channel, b).Err(); err != nil {
		return fmt.Errorf("presence: publish: %w", err)
	}
	return nil
}

// Lookup returns the last published record for identity.
func Lookup(ctx context.Context, store Store, identity string) (Record, error) {
	raw, err := store.Get(ctx, Key(identity)).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrUnknown
	}
	if err != nil {
		return Record{}, fmt.Errorf("presence: get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("presence: decode: %w", err)
	}
	return rec, nil
}
