package softphone

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type fakeCall struct {
	mu           sync.Mutex
	params       CallParameters
	accepted     int
	rejected     int
	disconnected int
}

func (c *fakeCall) Parameters() CallParameters { return c.params }

func (c *fakeCall) Accept() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accepted++
	return nil
}

func (c *fakeCall) Reject() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rejected++
	return nil
}

func (c *fakeCall) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnected++
	return nil
}

type fakeDevice struct {
	id      int
	token   string
	opts    DeviceOptions
	factory *fakeFactory

	mu          sync.Mutex
	handlers    map[Event][]Handler
	registerErr error
	connects    []ConnectParams
	destroyed   int
}

func (d *fakeDevice) On(ev Event, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[ev] = append(d.handlers[ev], h)
}

func (d *fakeDevice) Register(ctx context.Context) error { return d.registerErr }

func (d *fakeDevice) Connect(ctx context.Context, params ConnectParams) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects = append(d.connects, params)
	return &fakeCall{params: CallParameters{To: params.To}}, nil
}

func (d *fakeDevice) Destroy() error {
	d.mu.Lock()
	d.destroyed++
	d.mu.Unlock()
	d.factory.record(fmt.Sprintf("destroy:%d", d.id))
	return nil
}

func (d *fakeDevice) emit(ev Event, pl Payload) {
	d.mu.Lock()
	hs := append([]Handler(nil), d.handlers[ev]...)
	d.mu.Unlock()
	for _, h := range hs {
		h(pl)
	}
}

func (d *fakeDevice) destroyCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}

type fakeFactory struct {
	mu          sync.Mutex
	devices     []*fakeDevice
	err         error
	registerErr error
	trace       []string
}

func (f *fakeFactory) NewDevice(ctx context.Context, token string, opts DeviceOptions) (Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDevice{
		id:          len(f.devices) + 1,
		token:       token,
		opts:        opts,
		factory:     f,
		handlers:    make(map[Event][]Handler),
		registerErr: f.registerErr,
	}
	f.devices = append(f.devices, d)
	f.trace = append(f.trace, fmt.Sprintf("new:%d", d.id))
	return d, nil
}

func (f *fakeFactory) record(s string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trace = append(f.trace, s)
}

func (f *fakeFactory) traced() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trace...)
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.devices)
}

func (f *fakeFactory) last() *fakeDevice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.devices[len(f.devices)-1]
}

type staticTokens struct {
	token string
	err   error
}

func (s staticTokens) Fetch(ctx context.Context, id Identity) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

var errBoom = errors.New("boom")
