package softphone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"runtime"
	"sync"
	"testing"

	"softphone/pkg/logger"

	"go.uber.org/goleak"
)

func newTestPhone(t *testing.T, tokens TokenSource, f *fakeFactory) *Phone {
	t.Helper()
	p, err := New(Config{Tokens: tokens, Devices: f, Logger: logger.Discard()})
	if err != nil {
		t.Fatalf("new phone: %v", err)
	}
	p.Observe(ObserverFunc(func(c Change) {
		s := c.Snapshot
		if !s.Status.Valid() {
			t.Errorf("invalid status %q after %s", s.Status, c.Cause)
		}
		if (s.Active != nil) != (s.Status == StatusInCall) {
			t.Errorf("active connection/in-call mismatch after %s: %+v", c.Cause, s)
		}
		if s.Incoming != nil && s.Status != StatusReady {
			t.Errorf("offer held outside ready after %s: %+v", c.Cause, s)
		}
	}))
	return p
}

func readyPhone(t *testing.T) (*Phone, *fakeFactory, *fakeDevice) {
	t.Helper()
	f := &fakeFactory{}
	p := newTestPhone(t, staticTokens{token: "abc"}, f)
	if err := p.Mount(context.Background(), "agent-1"); err != nil {
		t.Fatalf("mount: %v", err)
	}
	d := f.last()
	d.emit(EventReady, Payload{})
	if got := p.Snapshot().Status; got != StatusReady {
		t.Fatalf("expected ready, got %s", got)
	}
	return p, f, d
}

func tokenServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMount_TokenFailureLeavesDisconnected(t *testing.T) {
	cases := map[string]*httptest.Server{
		"server error": tokenServer(t, http.StatusInternalServerError, `{"token":"abc"}`),
		"malformed":    tokenServer(t, http.StatusOK, `{"token":`),
		"empty token":  tokenServer(t, http.StatusOK, `{"other":"x"}`),
	}
	for name, srv := range cases {
		t.Run(name, func(t *testing.T) {
			fetcher, err := NewTokenFetcher(srv.URL, srv.Client())
			if err != nil {
				t.Fatalf("fetcher: %v", err)
			}
			f := &fakeFactory{}
			p := newTestPhone(t, fetcher, f)

			if err := p.Mount(context.Background(), "agent-1"); err == nil {
				t.Fatalf("expected mount error")
			}
			if got := p.Snapshot().Status; got != StatusDisconnected {
				t.Fatalf("expected disconnected, got %s", got)
			}
			if f.count() != 0 {
				t.Fatalf("expected no device constructed, got %d", f.count())
			}
		})
	}
}

func TestScenario_TokenThenReadyRendersDialer(t *testing.T) {
	srv := tokenServer(t, http.StatusOK, `{"token":"abc"}`)
	fetcher, err := NewTokenFetcher(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("fetcher: %v", err)
	}
	f := &fakeFactory{}
	p := newTestPhone(t, fetcher, f)

	if err := p.Mount(context.Background(), "agent-1"); err != nil {
		t.Fatalf("mount: %v", err)
	}
	d := f.last()
	if d.token != "abc" {
		t.Fatalf("expected device built with token abc, got %q", d.token)
	}
	if d.opts.Edge != "ashburn" || len(d.opts.CodecPreferences) != 2 ||
		d.opts.CodecPreferences[0] != CodecOpus || d.opts.CodecPreferences[1] != CodecPCMU {
		t.Fatalf("unexpected device options: %+v", d.opts)
	}
	for _, ev := range Events {
		if len(d.handlers[ev]) != 1 {
			t.Fatalf("expected one handler for %s", ev)
		}
	}
	if got := p.Snapshot().Status; got != StatusDisconnected {
		t.Fatalf("expected disconnected before ready, got %s", got)
	}

	d.emit(EventReady, Payload{})

	v := Render(p.Snapshot())
	if v.Status != StatusReady || !v.ShowDialer || !v.Has(ControlCall) {
		t.Fatalf("expected dialer rendered, got %+v", v)
	}
}

func TestScenario_IncomingAnswerConnectDisconnect(t *testing.T) {
	p, _, d := readyPhone(t)

	offer := &fakeCall{params: CallParameters{CallSID: "CA1", From: "+15551234567"}}
	d.emit(EventIncoming, Payload{Offer: offer})

	v := Render(p.Snapshot())
	if v.Incoming == nil || v.Incoming.Caption != "Incoming call from +15551234567" {
		t.Fatalf("expected incoming caption, got %+v", v.Incoming)
	}
	if !v.Has(ControlAnswer) || !v.Has(ControlReject) {
		t.Fatalf("expected answer/reject controls, got %v", v.Controls)
	}

	if err := p.Answer(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if offer.accepted != 1 {
		t.Fatalf("expected accept once, got %d", offer.accepted)
	}
	if p.Snapshot().Incoming != nil {
		t.Fatalf("expected offer cleared after answer")
	}

	d.emit(EventConnect, Payload{Connection: offer})
	s := p.Snapshot()
	if s.Status != StatusInCall || s.Active == nil || s.Active.CallSID != "CA1" {
		t.Fatalf("expected in-call with CA1, got %+v", s)
	}
	if v := Render(s); !v.ShowHangUp || v.ShowDialer {
		t.Fatalf("expected only hang up control, got %+v", v)
	}

	if err := p.HangUp(); err != nil {
		t.Fatalf("hang up: %v", err)
	}
	if offer.disconnected != 1 {
		t.Fatalf("expected disconnect once, got %d", offer.disconnected)
	}
	if got := p.Snapshot().Status; got != StatusInCall {
		t.Fatalf("status must wait for the disconnect event, got %s", got)
	}

	d.emit(EventDisconnect, Payload{Connection: offer})
	s = p.Snapshot()
	if s.Status != StatusReady || s.Active != nil {
		t.Fatalf("expected ready without connection, got %+v", s)
	}
}

func TestReject_ClearsOffer(t *testing.T) {
	p, _, d := readyPhone(t)
	offer := &fakeCall{params: CallParameters{CallSID: "CA2", From: "+1555"}}
	d.emit(EventIncoming, Payload{Offer: offer})

	if err := p.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if offer.rejected != 1 || offer.accepted != 0 {
		t.Fatalf("expected reject only, got accepted=%d rejected=%d", offer.accepted, offer.rejected)
	}
	if p.Snapshot().Incoming != nil {
		t.Fatalf("expected offer cleared")
	}
}

func TestIncomingCanceledByCaller(t *testing.T) {
	p, _, d := readyPhone(t)
	offer := &fakeCall{params: CallParameters{CallSID: "CA3", From: "+1555"}}
	d.emit(EventIncoming, Payload{Offer: offer})
	d.emit(EventDisconnect, Payload{Connection: offer})

	s := p.Snapshot()
	if s.Incoming != nil || s.Status != StatusReady {
		t.Fatalf("expected canceled offer cleared, got %+v", s)
	}
}

func TestDeviceError_IsAbsorbing(t *testing.T) {
	p, _, d := readyPhone(t)
	conn := &fakeCall{params: CallParameters{CallSID: "CA4"}}
	d.emit(EventConnect, Payload{Connection: conn})

	d.emit(EventError, Payload{Err: errBoom})
	s := p.Snapshot()
	if s.Status != StatusError || s.Active != nil {
		t.Fatalf("expected error without connection, got %+v", s)
	}
	v := Render(s)
	if len(v.Controls) != 0 || v.Incoming != nil || v.ShowDialer || v.ShowHangUp {
		t.Fatalf("expected status label only, got %+v", v)
	}
	if lines := v.Lines(); len(lines) != 1 || lines[0] != "Status: error" {
		t.Fatalf("unexpected lines %v", lines)
	}

	d.emit(EventReady, Payload{})
	if got := p.Snapshot().Status; got != StatusError {
		t.Fatalf("expected error to absorb later events, got %s", got)
	}
}

func TestPreconditions_AreSilentNoops(t *testing.T) {
	f := &fakeFactory{}
	p := newTestPhone(t, staticTokens{token: "abc"}, f)

	if err := p.Answer(); err != nil {
		t.Fatalf("answer: %v", err)
	}
	if err := p.Reject(); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := p.HangUp(); err != nil {
		t.Fatalf("hang up: %v", err)
	}
	p.SetDestination("+1555")
	if err := p.PlaceCall(context.Background()); err != nil {
		t.Fatalf("place call: %v", err)
	}

	if err := p.Mount(context.Background(), "agent-1"); err != nil {
		t.Fatalf("mount: %v", err)
	}
	d := f.last()
	p.SetDestination("+1555")
	if err := p.PlaceCall(context.Background()); err != nil {
		t.Fatalf("place call before ready: %v", err)
	}
	if len(d.connects) != 0 {
		t.Fatalf("expected no connect before ready")
	}
}

func TestPlaceCall_UsesStoredDestination(t *testing.T) {
	p, _, d := readyPhone(t)

	if err := p.PlaceCall(context.Background()); !errors.Is(err, ErrNoDestination) {
		t.Fatalf("expected ErrNoDestination, got %v", err)
	}

	p.SetDestination("  +15557654321 ")
	if v := Render(p.Snapshot()); v.Destination != "+15557654321" {
		t.Fatalf("expected destination in view, got %q", v.Destination)
	}
	if err := p.PlaceCall(context.Background()); err != nil {
		t.Fatalf("place call: %v", err)
	}
	if len(d.connects) != 1 || d.connects[0].To != "+15557654321" {
		t.Fatalf("unexpected connects %+v", d.connects)
	}
	if got := p.Snapshot().Status; got != StatusReady {
		t.Fatalf("status changes only on connect event, got %s", got)
	}
}

func TestIncomingWhileInCall_IsIgnored(t *testing.T) {
	p, _, d := readyPhone(t)
	d.emit(EventConnect, Payload{Connection: &fakeCall{params: CallParameters{CallSID: "CA5"}}})
	d.emit(EventIncoming, Payload{Offer: &fakeCall{params: CallParameters{CallSID: "CA6", From: "+1"}}})

	if s := p.Snapshot(); s.Incoming != nil {
		t.Fatalf("expected offer ignored during a call, got %+v", s.Incoming)
	}
}

func TestUnmount_DestroysExactlyOnce(t *testing.T) {
	p, _, d := readyPhone(t)

	if err := p.Unmount(); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	if err := p.Unmount(); err != nil {
		t.Fatalf("second unmount: %v", err)
	}
	if n := d.destroyCount(); n != 1 {
		t.Fatalf("expected one destroy, got %d", n)
	}
	s := p.Snapshot()
	if s.Status != StatusDisconnected || s.DeviceLive {
		t.Fatalf("expected disconnected without device, got %+v", s)
	}

	d.emit(EventReady, Payload{})
	if got := p.Snapshot().Status; got != StatusDisconnected {
		t.Fatalf("events from a destroyed device must be dropped, got %s", got)
	}
}

func TestSetIdentity_TearsDownBeforeConstructing(t *testing.T) {
	p, f, first := readyPhone(t)

	if err := p.SetIdentity(context.Background(), "agent-1"); err != nil {
		t.Fatalf("same identity: %v", err)
	}
	if f.count() != 1 {
		t.Fatalf("same identity must not rebuild the device")
	}

	if err := p.SetIdentity(context.Background(), "agent-2"); err != nil {
		t.Fatalf("set identity: %v", err)
	}
	want := []string{"new:1", "destroy:1", "new:2"}
	got := f.traced()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if first.destroyCount() != 1 {
		t.Fatalf("expected previous device destroyed once")
	}
	s := p.Snapshot()
	if s.Identity != "agent-2" || s.Status != StatusDisconnected || !s.DeviceLive {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

type gatedTokens struct {
	mu    sync.Mutex
	gates map[Identity]chan struct{}
}

func (g *gatedTokens) Fetch(ctx context.Context, id Identity) (string, error) {
	g.mu.Lock()
	gate := g.gates[id]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return "token-" + string(id), nil
}

func TestMount_StaleTokenIsDiscarded(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gate := make(chan struct{})
	tokens := &gatedTokens{gates: map[Identity]chan struct{}{"old": gate}}
	f := &fakeFactory{}
	p := newTestPhone(t, tokens, f)

	done := make(chan error, 1)
	go func() { done <- p.Mount(context.Background(), "old") }()

	// wait until the mount has bumped the generation
	for p.Snapshot().Identity != "old" {
		runtime.Gosched()
	}

	if err := p.Unmount(); err != nil {
		t.Fatalf("unmount: %v", err)
	}
	close(gate)

	if err := <-done; !errors.Is(err, ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded, got %v", err)
	}
	if f.count() != 1 || f.last().destroyCount() != 1 {
		t.Fatalf("expected the stale device built and destroyed once")
	}
	if s := p.Snapshot(); s.DeviceLive {
		t.Fatalf("unexpected live device %+v", s)
	}
}

func TestMount_ConcurrentMountsRunInOrder(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gate := make(chan struct{})
	tokens := &gatedTokens{gates: map[Identity]chan struct{}{"old": gate}}
	f := &fakeFactory{}
	p := newTestPhone(t, tokens, f)

	first := make(chan error, 1)
	go func() { first <- p.Mount(context.Background(), "old") }()
	for p.Snapshot().Identity != "old" {
		runtime.Gosched()
	}
	second := make(chan error, 1)
	go func() { second <- p.Mount(context.Background(), "new") }()
	close(gate)

	if err := <-first; err != nil {
		t.Fatalf("mount old: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("mount new: %v", err)
	}
	want := []string{"new:1", "destroy:1", "new:2"}
	got := f.traced()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if s := p.Snapshot(); s.Identity != "new" || !s.DeviceLive {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestSetIdentity_ConcurrentSameIdentityBuildsOneDevice(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	gate := make(chan struct{})
	tokens := &gatedTokens{gates: map[Identity]chan struct{}{"agent-1": gate}}
	f := &fakeFactory{}
	p := newTestPhone(t, tokens, f)

	const callers = 4
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- p.SetIdentity(context.Background(), "agent-1")
		}()
	}
	for p.Snapshot().Identity != "agent-1" {
		runtime.Gosched()
	}
	close(gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("set identity: %v", err)
		}
	}
	if f.count() != 1 {
		t.Fatalf("expected one device, got %d", f.count())
	}
	if f.last().destroyCount() != 0 || !p.Snapshot().DeviceLive {
		t.Fatalf("expected the device live, got %+v", p.Snapshot())
	}
}

func TestMount_FailureIsReported(t *testing.T) {
	cases := map[string]struct {
		tokens TokenSource
		f      *fakeFactory
	}{
		"token":        {tokens: staticTokens{err: errBoom}, f: &fakeFactory{}},
		"construction": {tokens: staticTokens{token: "abc"}, f: &fakeFactory{err: errBoom}},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			p := newTestPhone(t, tc.tokens, tc.f)
			var mounts []Change
			p.Observe(ObserverFunc(func(c Change) {
				if c.Cause == CauseMount {
					mounts = append(mounts, c)
				}
			}))

			if err := p.Mount(context.Background(), "agent-1"); !errors.Is(err, errBoom) {
				t.Fatalf("expected mount error, got %v", err)
			}
			if len(mounts) != 2 {
				t.Fatalf("expected identity change then failure, got %+v", mounts)
			}
			last := mounts[1]
			if !errors.Is(last.Err, errBoom) || last.Snapshot.DeviceLive || last.Snapshot.Identity != "agent-1" {
				t.Fatalf("unexpected failure change %+v", last)
			}
			if mounts[0].Err != nil {
				t.Fatalf("expected the identity change without error, got %v", mounts[0].Err)
			}
		})
	}
}

func TestMount_RegisterFailureDestroysDevice(t *testing.T) {
	f := &fakeFactory{registerErr: errBoom}
	p := newTestPhone(t, staticTokens{token: "abc"}, f)

	if err := p.Mount(context.Background(), "agent-1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected register error, got %v", err)
	}
	if f.last().destroyCount() != 1 {
		t.Fatalf("expected device destroyed after failed registration")
	}
	if s := p.Snapshot(); s.DeviceLive || s.Status != StatusDisconnected {
		t.Fatalf("unexpected snapshot %+v", s)
	}
}

func TestMount_RequiresIdentity(t *testing.T) {
	p := newTestPhone(t, staticTokens{token: "abc"}, &fakeFactory{})
	if err := p.Mount(context.Background(), " "); !errors.Is(err, ErrNoIdentity) {
		t.Fatalf("expected ErrNoIdentity, got %v", err)
	}
}

func TestSubscribe_DeliversLatestSnapshot(t *testing.T) {
	p, _, d := readyPhone(t)
	ch, cancel := p.Subscribe()
	defer cancel()

	p.SetDestination("+1")
	d.emit(EventConnect, Payload{Connection: &fakeCall{params: CallParameters{CallSID: "CA7"}}})

	s := <-ch
	if s.Status != StatusInCall {
		t.Fatalf("expected latest snapshot in-call, got %s", s.Status)
	}
	select {
	case extra := <-ch:
		t.Fatalf("expected a single buffered snapshot, got %+v", extra)
	default:
	}

	cancel()
	d.emit(EventDisconnect, Payload{})
	select {
	case s := <-ch:
		t.Fatalf("expected no delivery after cancel, got %+v", s)
	default:
	}
}
