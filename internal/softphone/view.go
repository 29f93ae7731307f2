package softphone

import "fmt"

// Control is a user-facing action button.
type Control string

const (
	ControlAnswer Control = "answer"
	ControlReject Control = "reject"
	ControlCall   Control = "call"
	ControlHangUp Control = "hangup"
)

// IncomingView describes the pending inbound call.
type IncomingView struct {
	From    string `json:"from"`
	Caption string `json:"caption"`
}

// View is what the user sees. It is derived from a Snapshot only.
type View struct {
	Status      Status        `json:"status"`
	StatusLabel string        `json:"status_label"`
	Incoming    *IncomingView `json:"incoming,omitempty"`
	ShowDialer  bool          `json:"show_dialer"`
	Destination string        `json:"destination,omitempty"`
	ShowHangUp  bool          `json:"show_hangup"`
	Controls    []Control     `json:"controls"`
}

// Render maps a snapshot to the visible controls.
func Render(s Snapshot) View {
	v := View{
		Status:      s.Status,
		StatusLabel: "Status: " + string(s.Status),
		Controls:    []Control{},
	}
	if s.Incoming != nil {
		v.Incoming = &IncomingView{
			From:    s.Incoming.From,
			Caption: fmt.Sprintf("Incoming call from %s", s.Incoming.From),
		}
		v.Controls = append(v.Controls, ControlAnswer, ControlReject)
	}
	if s.Status == StatusReady {
		v.ShowDialer = true
		v.Destination = s.Destination
		v.Controls = append(v.Controls, ControlCall)
	}
	if s.Status == StatusInCall {
		v.ShowHangUp = true
		v.Controls = append(v.Controls, ControlHangUp)
	}
	return v
}

// Has reports whether c is rendered.
func (v View) Has(c Control) bool {
	for _, x := range v.Controls {
		if x == c {
			return true
		}
	}
	return false
}

// Lines is a plain-text rendering, one element per visible row.
func (v View) Lines() []string {
	var out []string
	if v.Incoming != nil {
		out = append(out, v.Incoming.Caption, "[Answer] [Reject]")
	}
	if v.ShowDialer {
		out = append(out, fmt.Sprintf("To: [%s] [Call]", v.Destination))
	}
	if v.ShowHangUp {
		out = append(out, "[Hang Up]")
	}
	return append(out, v.StatusLabel)
}
