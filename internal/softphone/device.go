package softphone

import (
	"context"
	"strings"
)

// Identity identifies the local agent to the voice platform.
type Identity string

func (i Identity) String() string { return string(i) }

// Event names emitted by a Device.
type Event string

const (
	EventReady      Event = "ready"
	EventError      Event = "error"
	EventIncoming   Event = "incoming"
	EventConnect    Event = "connect"
	EventDisconnect Event = "disconnect"
)

// Events lists every device event the Phone subscribes to.
var Events = []Event{EventReady, EventError, EventIncoming, EventConnect, EventDisconnect}

// Payload carries the event-specific object: the offer for "incoming", the
// connection for "connect"/"disconnect" and the cause for "error".
type Payload struct {
	Offer      Offer
	Connection Connection
	Err        error
}

// Handler receives device events. Handlers may run on any goroutine.
type Handler func(Payload)

// CallParameters are the call attributes exposed by the vendor client.
type CallParameters struct {
	CallSID string `json:"call_sid,omitempty"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
}

// ConnectParams is passed to Device.Connect for outbound calls.
type ConnectParams struct {
	To string
}

// Offer is an inbound call that has not been accepted or rejected yet.
type Offer interface {
	Parameters() CallParameters
	Accept() error
	Reject() error
}

// Connection is an in-progress call.
type Connection interface {
	Parameters() CallParameters
	Disconnect() error
}

// Device is the vendor calling client. The Phone owns exactly one at a time
// and always calls Destroy once it is done with it.
type Device interface {
	On(ev Event, h Handler)
	Register(ctx context.Context) error
	Connect(ctx context.Context, params ConnectParams) (Connection, error)
	Destroy() error
}

// Codec names accepted in DeviceOptions.CodecPreferences.
type Codec string

const (
	CodecOpus Codec = "opus"
	CodecPCMU Codec = "pcmu"
)

// DeviceOptions configures a new Device.
type DeviceOptions struct {
	Edge             string
	CodecPreferences []Codec
}

// DefaultDeviceOptions prefers opus and falls back to pcmu.
func DefaultDeviceOptions() DeviceOptions {
	return DeviceOptions{
		Edge:             "ashburn",
		CodecPreferences: []Codec{CodecOpus, CodecPCMU},
	}
}

// ParseCodecs parses a comma separated preference list such as "opus,pcmu".
func ParseCodecs(s string) []Codec {
	var out []Codec
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		out = append(out, Codec(part))
	}
	return out
}

// DeviceFactory constructs devices from a call token.
type DeviceFactory interface {
	NewDevice(ctx context.Context, token string, opts DeviceOptions) (Device, error)
}

// DeviceFactoryFunc adapts a function to DeviceFactory.
type DeviceFactoryFunc func(ctx context.Context, token string, opts DeviceOptions) (Device, error)

func (f DeviceFactoryFunc) NewDevice(ctx context.Context, token string, opts DeviceOptions) (Device, error) {
	return f(ctx, token, opts)
}
