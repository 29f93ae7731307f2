package softphone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/looplab/fsm"
)

var (
	ErrNoIdentity    = errors.New("softphone: identity required")
	ErrNoDestination = errors.New("softphone: destination number required")
	ErrSuperseded    = errors.New("softphone: initialization superseded by a newer mount")
)

// Causes reported in Change for user actions and lifecycle steps. Device
// events use the Event name as the cause.
const (
	CauseMount       = "mount"
	CauseUnmount     = "unmount"
	CauseAnswer      = "answer"
	CauseReject      = "reject"
	CauseHangUp      = "hangup"
	CausePlaceCall   = "call"
	CauseDestination = "destination"
)

// Snapshot is an immutable copy of the phone state.
type Snapshot struct {
	Identity    Identity        `json:"identity"`
	Status      Status          `json:"status"`
	Destination string          `json:"destination"`
	Incoming    *CallParameters `json:"incoming,omitempty"`
	Active      *CallParameters `json:"active,omitempty"`
	DeviceLive  bool            `json:"device_live"`
}

// Change is delivered to observers after every state change.
type Change struct {
	Cause    string
	Snapshot Snapshot
	// Err is the device error for "error" changes and the failure of a
	// "mount" that left no live device.
	Err error
}

// Observer is notified of changes in order. Observers must not call Phone
// methods that change state.
type Observer interface {
	OnChange(Change)
}

type ObserverFunc func(Change)

func (f ObserverFunc) OnChange(c Change) { f(c) }

// Config wires a Phone.
type Config struct {
	Tokens  TokenSource
	Devices DeviceFactory
	Options DeviceOptions
	Logger  *slog.Logger
}

// Phone is the softphone component: it owns at most one device, tracks the
// call status, and exposes the user actions.
//
// All state changes happen under mu, so each device event is applied as one
// transaction. gen increases on every mount and unmount; device events and
// token fetches carrying an older generation are discarded.
type Phone struct {
	tokens  TokenSource
	devices DeviceFactory
	opts    DeviceOptions
	log     *slog.Logger

	// notifyMu keeps observer delivery in commit order.
	notifyMu sync.Mutex
	// mountMu serializes Mount and SetIdentity across token fetch and device
	// construction. Unmount does not take it; gen covers that race.
	mountMu sync.Mutex

	mu          sync.Mutex
	observers   []observerEntry
	nextObsID   int
	gen         uint64
	identity    Identity
	device      Device
	machine     *fsm.FSM
	offer       Offer
	conn        Connection
	destination string
}

type observerEntry struct {
	id  int
	obs Observer
}

func New(cfg Config) (*Phone, error) {
	if cfg.Tokens == nil {
		return nil, errors.New("softphone: token source is required")
	}
	if cfg.Devices == nil {
		return nil, errors.New("softphone: device factory is required")
	}
	opts := cfg.Options
	if opts.Edge == "" && len(opts.CodecPreferences) == 0 {
		opts = DefaultDeviceOptions()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Phone{
		tokens:  cfg.Tokens,
		devices: cfg.Devices,
		opts:    opts,
		log:     log,
		machine: newStatusMachine(),
	}, nil
}

// Observe registers o and returns a function that removes it.
func (p *Phone) Observe(o Observer) (remove func()) {
	p.mu.Lock()
	p.nextObsID++
	id := p.nextObsID
	p.observers = append(p.observers, observerEntry{id: id, obs: o})
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			for i, e := range p.observers {
				if e.id == id {
					p.observers = append(p.observers[:i], p.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Subscribe returns a channel that always holds the most recent snapshot not
// yet received. The channel is never closed; stop delivery with cancel.
func (p *Phone) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	cancel := p.Observe(ObserverFunc(func(c Change) {
		select {
		case ch <- c.Snapshot:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- c.Snapshot:
		default:
		}
	}))
	return ch, cancel
}

// Snapshot returns the current state.
func (p *Phone) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Mount initializes a device for id, tearing down any previous device first.
// When no token can be obtained the phone stays disconnected and no device is
// constructed.
func (p *Phone) Mount(ctx context.Context, id Identity) error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrNoIdentity
	}
	p.mountMu.Lock()
	defer p.mountMu.Unlock()
	return p.mountLocked(ctx, id)
}

func (p *Phone) mountLocked(ctx context.Context, id Identity) error {
	log := p.log.With("identity", id.String())

	p.mu.Lock()
	old := p.detachLocked()
	p.gen++
	gen := p.gen
	p.identity = id
	p.destination = ""
	p.commit(CauseMount, nil)
	p.destroy(old)

	token, err := p.tokens.Fetch(ctx, id)
	if err != nil {
		log.Info("device not initialized", "reason", "no call token")
		p.mountFailed(gen, err)
		return err
	}

	dev, err := p.devices.NewDevice(ctx, token, p.opts)
	if err != nil {
		log.Error("device construction failed", "err", err)
		err = fmt.Errorf("softphone: construct device: %w", err)
		p.mountFailed(gen, err)
		return err
	}

	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		log.Info("stale initialization discarded")
		p.destroy(dev)
		return ErrSuperseded
	}
	p.device = dev
	p.commit(CauseMount, nil)

	for _, ev := range Events {
		dev.On(ev, p.handler(gen, dev, ev))
	}

	if err := dev.Register(ctx); err != nil {
		log.Error("device registration failed", "err", err)
		err = fmt.Errorf("softphone: register device: %w", err)
		p.mu.Lock()
		if p.device != dev {
			p.mu.Unlock()
			return err
		}
		p.detachLocked()
		p.commit(CauseMount, err)
		p.destroy(dev)
		return err
	}
	log.Info("device initialized", "edge", p.opts.Edge)
	return nil
}

// mountFailed reports err for the mount of generation gen unless a later mount
// or unmount has already replaced it.
func (p *Phone) mountFailed(gen uint64, err error) {
	p.mu.Lock()
	if p.gen != gen {
		p.mu.Unlock()
		return
	}
	p.commit(CauseMount, err)
}

// SetIdentity re-initializes the phone when id differs from the mounted one
// or no device is live. Concurrent calls for the same identity build one
// device.
func (p *Phone) SetIdentity(ctx context.Context, id Identity) error {
	if strings.TrimSpace(string(id)) == "" {
		return ErrNoIdentity
	}
	p.mountMu.Lock()
	defer p.mountMu.Unlock()

	p.mu.Lock()
	same := p.identity == id && p.device != nil
	p.mu.Unlock()
	if same {
		return nil
	}
	return p.mountLocked(ctx, id)
}

// Unmount destroys the current device, if any. It is safe to call repeatedly;
// a device is destroyed exactly once.
func (p *Phone) Unmount() error {
	p.mu.Lock()
	old := p.detachLocked()
	p.gen++
	p.commit(CauseUnmount, nil)
	return p.destroy(old)
}

// SetDestination stores the number used by the next outbound call.
func (p *Phone) SetDestination(number string) {
	p.mu.Lock()
	p.destination = strings.TrimSpace(number)
	p.commit(CauseDestination, nil)
}

// Answer accepts the pending incoming call. Without one it does nothing.
func (p *Phone) Answer() error {
	p.mu.Lock()
	offer := p.offer
	if offer == nil {
		p.mu.Unlock()
		return nil
	}
	p.offer = nil
	p.commit(CauseAnswer, nil)

	if err := offer.Accept(); err != nil {
		return fmt.Errorf("softphone: accept: %w", err)
	}
	return nil
}

// Reject declines the pending incoming call. Without one it does nothing.
func (p *Phone) Reject() error {
	p.mu.Lock()
	offer := p.offer
	if offer == nil {
		p.mu.Unlock()
		return nil
	}
	p.offer = nil
	p.commit(CauseReject, nil)

	if err := offer.Reject(); err != nil {
		return fmt.Errorf("softphone: reject: %w", err)
	}
	return nil
}

// HangUp disconnects the active call. The status changes when the device
// reports the disconnect.
func (p *Phone) HangUp() error {
	p.mu.Lock()
	conn := p.conn
	if conn == nil {
		p.mu.Unlock()
		return nil
	}
	p.commit(CauseHangUp, nil)

	if err := conn.Disconnect(); err != nil {
		return fmt.Errorf("softphone: disconnect: %w", err)
	}
	return nil
}

// PlaceCall dials the stored destination. It does nothing unless the phone is
// ready with a live device.
func (p *Phone) PlaceCall(ctx context.Context) error {
	p.mu.Lock()
	dev := p.device
	if dev == nil || Status(p.machine.Current()) != StatusReady {
		p.mu.Unlock()
		return nil
	}
	to := p.destination
	if to == "" {
		p.mu.Unlock()
		return ErrNoDestination
	}
	p.commit(CausePlaceCall, nil)

	if _, err := dev.Connect(ctx, ConnectParams{To: to}); err != nil {
		return fmt.Errorf("softphone: connect: %w", err)
	}
	return nil
}

func (p *Phone) handler(gen uint64, dev Device, ev Event) Handler {
	return func(pl Payload) {
		p.onDeviceEvent(gen, dev, ev, pl)
	}
}

func (p *Phone) onDeviceEvent(gen uint64, dev Device, ev Event, pl Payload) {
	p.mu.Lock()
	if gen != p.gen || p.device != dev {
		p.mu.Unlock()
		p.log.Debug("stale device event dropped", "event", string(ev))
		return
	}
	log := p.log.With("identity", p.identity.String(), "event", string(ev))
	current := Status(p.machine.Current())
	if current == StatusError {
		p.mu.Unlock()
		log.Debug("device event ignored after error")
		return
	}

	switch ev {
	case EventReady:
		p.transition(log, transitionReady)

	case EventError:
		p.offer, p.conn = nil, nil
		p.transition(log, transitionFail)
		log.Error("device error", "err", pl.Err)

	case EventIncoming:
		if pl.Offer == nil {
			p.mu.Unlock()
			return
		}
		if current != StatusReady {
			p.mu.Unlock()
			log.Warn("incoming call ignored", "status", string(current), "from", pl.Offer.Parameters().From)
			return
		}
		p.offer = pl.Offer

	case EventConnect:
		if pl.Connection == nil {
			p.mu.Unlock()
			return
		}
		if p.transition(log, transitionConnect) {
			p.conn = pl.Connection
			if p.offer != nil {
				log.Warn("pending incoming call dropped on connect", "from", p.offer.Parameters().From)
				p.offer = nil
			}
		}

	case EventDisconnect:
		if current == StatusInCall {
			if p.conn != nil && pl.Connection != nil && differentCall(p.conn.Parameters(), pl.Connection.Parameters()) {
				p.mu.Unlock()
				log.Debug("disconnect for another call ignored")
				return
			}
			p.transition(log, transitionDisconnect)
			p.conn = nil
		} else if p.offer != nil && pl.Connection != nil && sameCall(p.offer.Parameters(), pl.Connection.Parameters()) {
			// caller hung up before the offer was answered
			p.offer = nil
		}

	default:
		p.mu.Unlock()
		return
	}

	p.commit(string(ev), pl.Err)
}

func (p *Phone) transition(log *slog.Logger, name string) bool {
	ok, err := fire(p.machine, name)
	if err != nil {
		log.Error("status transition failed", "transition", name, "err", err)
		return false
	}
	if !ok {
		log.Debug("status transition not allowed", "transition", name, "status", p.machine.Current())
	}
	return ok
}

// detachLocked clears all device state and returns the device to destroy.
func (p *Phone) detachLocked() Device {
	dev := p.device
	p.device = nil
	p.offer = nil
	p.conn = nil
	p.machine.SetState(string(StatusDisconnected))
	return dev
}

func (p *Phone) destroy(dev Device) error {
	if dev == nil {
		return nil
	}
	if err := dev.Destroy(); err != nil {
		p.log.Warn("device destroy failed", "err", err)
		return fmt.Errorf("softphone: destroy device: %w", err)
	}
	return nil
}

// commit must be called with mu held; it releases mu and delivers the change.
func (p *Phone) commit(cause string, err error) {
	ch := Change{Cause: cause, Snapshot: p.snapshotLocked(), Err: err}
	observers := make([]Observer, len(p.observers))
	for i, e := range p.observers {
		observers[i] = e.obs
	}

	p.notifyMu.Lock()
	p.mu.Unlock()
	defer p.notifyMu.Unlock()
	for _, o := range observers {
		o.OnChange(ch)
	}
}

func (p *Phone) snapshotLocked() Snapshot {
	s := Snapshot{
		Identity:    p.identity,
		Status:      Status(p.machine.Current()),
		Destination: p.destination,
		DeviceLive:  p.device != nil,
	}
	if p.offer != nil {
		params := p.offer.Parameters()
		s.Incoming = &params
	}
	if p.conn != nil {
		params := p.conn.Parameters()
		s.Active = &params
	}
	return s
}

func sameCall(a, b CallParameters) bool {
	return a.CallSID != "" && a.CallSID == b.CallSID
}

func differentCall(a, b CallParameters) bool {
	return a.CallSID != "" && b.CallSID != "" && a.CallSID != b.CallSID
}
