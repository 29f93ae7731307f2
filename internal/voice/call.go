package voice

import (
	"sync"

	"github.com/google/uuid"

	"softphone/internal/softphone"
)

// call is both the Offer of an inbound call and the Connection of a live one.
// Outbound calls learn their CallSID from the gateway's connect event.
type call struct {
	dev *Device
	ref string

	mu     sync.Mutex
	params softphone.CallParameters
}

func (c *call) Parameters() softphone.CallParameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.params
}

func (c *call) setParameters(p softphone.CallParameters) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p.CallSID != "" {
		c.params.CallSID = p.CallSID
	}
	if p.From != "" {
		c.params.From = p.From
	}
	if p.To != "" {
		c.params.To = p.To
	}
}

func (c *call) Accept() error     { return c.command(cmdAccept) }
func (c *call) Reject() error     { return c.command(cmdReject) }
func (c *call) Disconnect() error { return c.command(cmdDisconnect) }

func (c *call) command(t commandType) error {
	cmd := command{ID: uuid.NewString(), Type: t, CallSID: c.Parameters().CallSID}
	if cmd.CallSID == "" {
		cmd.Ref = c.ref
	}
	return c.dev.send(cmd)
}
