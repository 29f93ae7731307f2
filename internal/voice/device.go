// Package voice implements softphone.Device over a websocket connection to
// the voice gateway.
package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"softphone/internal/softphone"
)

var (
	ErrClosed         = errors.New("voice: device destroyed")
	ErrConnectionLost = errors.New("voice: gateway connection lost")
	ErrGatewayURL     = errors.New("voice: gateway url must be ws or wss")
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

// Factory dials the gateway for every new device.
type Factory struct {
	GatewayURL       string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger

	// Dialer overrides the default dialer, mostly for tests.
	Dialer *websocket.Dialer
}

// NewDevice dials the gateway, authenticating with token. Options travel as
// query parameters: edge=<edge>&codecs=opus,pcmu.
func (f *Factory) NewDevice(ctx context.Context, token string, opts softphone.DeviceOptions) (softphone.Device, error) {
	u, err := url.Parse(f.GatewayURL)
	if err != nil {
		return nil, fmt.Errorf("voice: parse gateway url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, ErrGatewayURL
	}
	q := u.Query()
	if opts.Edge != "" {
		q.Set("edge", opts.Edge)
	}
	if len(opts.CodecPreferences) > 0 {
		codecs := make([]string, len(opts.CodecPreferences))
		for i, c := range opts.CodecPreferences {
			codecs[i] = string(c)
		}
		q.Set("codecs", strings.Join(codecs, ","))
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	dialer := f.Dialer
	if dialer == nil {
		timeout := f.HandshakeTimeout
		if timeout <= 0 {
			timeout = defaultHandshakeTimeout
		}
		dialer = &websocket.Dialer{HandshakeTimeout: timeout}
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("voice: dial gateway: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("voice: dial gateway: %w", err)
	}

	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	return newDevice(conn, log.With("component", "voice")), nil
}

// Device is a registered calling client on one gateway connection.
type Device struct {
	conn   *websocket.Conn
	log    *slog.Logger
	events *emitter

	writeMu sync.Mutex

	mu        sync.Mutex
	started   bool
	destroyed bool
	lost      bool
	pending   map[string]*call // outbound calls by connect command id
	calls     map[string]*call // known calls by CallSID

	closed     chan struct{}
	done       chan struct{}
	once       sync.Once
	destroyErr error
}

func newDevice(conn *websocket.Conn, log *slog.Logger) *Device {
	return &Device{
		conn:    conn,
		log:     log,
		events:  newEmitter(),
		pending: make(map[string]*call),
		calls:   make(map[string]*call),
		closed:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (d *Device) On(ev softphone.Event, h softphone.Handler) {
	d.events.on(ev, h)
}

// Register announces the client to the gateway and starts delivering events.
// The gateway answers with a ready or error event.
func (d *Device) Register(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return ErrClosed
	}
	if d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = true
	d.mu.Unlock()

	go d.listen()
	return d.send(command{ID: uuid.NewString(), Type: cmdRegister})
}

// Connect starts an outbound call. The returned connection is the one later
// reported by the connect and disconnect events.
func (d *Device) Connect(ctx context.Context, params softphone.ConnectParams) (softphone.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &call{dev: d, ref: uuid.NewString(), params: softphone.CallParameters{To: params.To}}

	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	d.pending[c.ref] = c
	d.mu.Unlock()

	if err := d.send(command{ID: c.ref, Type: cmdConnect, Params: &connectParams{To: params.To}}); err != nil {
		d.mu.Lock()
		delete(d.pending, c.ref)
		d.mu.Unlock()
		return nil, err
	}
	return c, nil
}

// Destroy closes the gateway connection and waits for event delivery to stop.
// Only the first call does any work.
func (d *Device) Destroy() error {
	d.once.Do(func() {
		d.mu.Lock()
		d.destroyed = true
		started, lost := d.started, d.lost
		d.mu.Unlock()
		close(d.closed)

		var err error
		if !lost {
			d.writeMu.Lock()
			err = d.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "device destroyed"),
				time.Now().Add(writeTimeout))
			d.writeMu.Unlock()
			if errors.Is(err, websocket.ErrCloseSent) {
				err = nil
			}
		}
		d.destroyErr = multierr.Append(err, d.conn.Close())
		if started {
			<-d.done
		}
	})
	return d.destroyErr
}

func (d *Device) send(cmd command) error {
	select {
	case <-d.closed:
		return ErrClosed
	default:
	}
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if err := d.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("voice: send %s: %w", cmd.Type, err)
	}
	if err := d.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("voice: send %s: %w", cmd.Type, err)
	}
	return nil
}

func (d *Device) listen() {
	defer close(d.done)
	for {
		_, msg, err := d.conn.ReadMessage()
		if err != nil {
			select {
			case <-d.closed:
				return
			default:
			}
			d.mu.Lock()
			d.lost = true
			d.mu.Unlock()
			d.log.Warn("gateway connection lost", "err", err)
			d.events.emit(softphone.EventError, softphone.Payload{Err: fmt.Errorf("%w: %v", ErrConnectionLost, err)})
			return
		}

		var ev gatewayEvent
		if err := json.Unmarshal(msg, &ev); err != nil {
			d.log.Debug("unparseable gateway message dropped", "err", err)
			continue
		}
		select {
		case <-d.closed:
			return
		default:
		}
		d.dispatch(ev)
	}
}

func (d *Device) dispatch(ev gatewayEvent) {
	switch ev.Type {
	case softphone.EventReady:
		d.events.emit(ev.Type, softphone.Payload{})

	case softphone.EventError:
		var err error = &GatewayError{Message: "unknown error"}
		if ev.Error != nil {
			err = ev.Error
		}
		d.events.emit(ev.Type, softphone.Payload{Err: err})

	case softphone.EventIncoming:
		c := d.track(ev)
		d.events.emit(ev.Type, softphone.Payload{Offer: c})

	case softphone.EventConnect:
		c := d.track(ev)
		d.events.emit(ev.Type, softphone.Payload{Connection: c})

	case softphone.EventDisconnect:
		c := d.track(ev)
		d.forget(c)
		d.events.emit(ev.Type, softphone.Payload{Connection: c})

	default:
		d.log.Debug("unknown gateway event", "type", string(ev.Type))
	}
}

// track returns the call an event refers to, registering it by CallSID.
func (d *Device) track(ev gatewayEvent) *call {
	params := ev.Parameters.callParameters(ev.CallSID)

	d.mu.Lock()
	defer d.mu.Unlock()

	var c *call
	if ev.Ref != "" {
		if pc, ok := d.pending[ev.Ref]; ok {
			delete(d.pending, ev.Ref)
			c = pc
		}
	}
	if c == nil && params.CallSID != "" {
		c = d.calls[params.CallSID]
	}
	if c == nil {
		c = &call{dev: d, ref: ev.Ref}
	}
	c.setParameters(params)
	if sid := c.Parameters().CallSID; sid != "" {
		d.calls[sid] = c
	}
	return c
}

func (d *Device) forget(c *call) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if sid := c.Parameters().CallSID; sid != "" {
		delete(d.calls, sid)
	}
	if c.ref != "" {
		delete(d.pending, c.ref)
	}
}
