package voice

import (
	"fmt"

	"softphone/internal/softphone"
)

// Commands sent to the gateway.
type commandType string

const (
	cmdRegister   commandType = "register"
	cmdConnect    commandType = "connect"
	cmdAccept     commandType = "accept"
	cmdReject     commandType = "reject"
	cmdDisconnect commandType = "disconnect"
)

type command struct {
	ID      string         `json:"id"`
	Type    commandType    `json:"type"`
	CallSID string         `json:"callSid,omitempty"`
	Ref     string         `json:"ref,omitempty"`
	Params  *connectParams `json:"params,omitempty"`
}

type connectParams struct {
	To string `json:"To"`
}

// gatewayEvent is a message pushed by the gateway. Ref echoes the id of the
// connect command an outbound call originated from.
type gatewayEvent struct {
	Type       softphone.Event `json:"type"`
	CallSID    string          `json:"callSid,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Parameters parameters      `json:"parameters"`
	Error      *GatewayError   `json:"error,omitempty"`
}

type parameters struct {
	CallSid string `json:"CallSid,omitempty"`
	From    string `json:"From,omitempty"`
	To      string `json:"To,omitempty"`
}

func (p parameters) callParameters(sid string) softphone.CallParameters {
	if p.CallSid != "" {
		sid = p.CallSid
	}
	return softphone.CallParameters{CallSID: sid, From: p.From, To: p.To}
}

// GatewayError is an error reported by the voice gateway.
type GatewayError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("voice: gateway error %d: %s", e.Code, e.Message)
}
