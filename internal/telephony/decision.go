package telephony

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"softphone/internal/presence"
)

type Action string

const (
	ActionDialNumber Action = "dial_number"
	ActionDialClient Action = "dial_client"
	ActionReject     Action = "reject"
)

const (
	RejectBusy     = "busy"
	RejectRejected = "rejected"

	defaultRingSeconds = 30
)

var (
	ErrNoTarget = errors.New("telephony: dial target required")

	e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)
)

// Decision is what the webhook tells the vendor to do with a call.
type Decision struct {
	Action         Action
	Target         string
	CallerID       string
	TimeoutSeconds int
	RejectReason   string
	// Reason is a short explanation for logs.
	Reason string
}

// AgentResolver maps a dialed number to the agent identity that answers it.
type AgentResolver func(ctx context.Context, toNumber string) (string, bool)

// PresenceLookup returns the last known phone status of an agent.
type PresenceLookup func(ctx context.Context, identity string) (presence.Record, error)

// Router decides how voice webhooks are handled.
//
// Outbound: a device ("client:<identity>") dials To, a number or another
// client, presenting CallerID.
// Inbound: the dialed number rings the agent that owns it, but only while the
// agent's phone is ready. Without presence every mapped agent is rung.
type Router struct {
	CallerID string
	Agents   AgentResolver
	Presence PresenceLookup
}

func (r Router) Decide(ctx context.Context, v VoiceRequest) Decision {
	if v.FromClient() {
		return r.outbound(v)
	}
	return r.inbound(ctx, v)
}

func (r Router) outbound(v VoiceRequest) Decision {
	if id, ok := ClientIdentity(v.To); ok {
		return Decision{Action: ActionDialClient, Target: id, CallerID: v.From, TimeoutSeconds: defaultRingSeconds, Reason: "client to client"}
	}
	to := strings.ReplaceAll(v.To, " ", "")
	if !e164.MatchString(to) {
		return Decision{Action: ActionReject, RejectReason: RejectRejected, Reason: "destination is not an E.164 number"}
	}
	if r.CallerID == "" {
		return Decision{Action: ActionReject, RejectReason: RejectRejected, Reason: "no caller id configured"}
	}
	return Decision{Action: ActionDialNumber, Target: to, CallerID: r.CallerID, Reason: "outbound"}
}

func (r Router) inbound(ctx context.Context, v VoiceRequest) Decision {
	if r.Agents == nil {
		return Decision{Action: ActionReject, RejectReason: RejectRejected, Reason: "no agent routing"}
	}
	agent, ok := r.Agents(ctx, v.To)
	if !ok {
		return Decision{Action: ActionReject, RejectReason: RejectRejected, Reason: "number not assigned"}
	}
	if r.Presence != nil {
		rec, err := r.Presence(ctx, agent)
		if err != nil || !rec.Available() {
			return Decision{Action: ActionReject, RejectReason: RejectBusy, Reason: "agent unavailable"}
		}
	}
	return Decision{Action: ActionDialClient, Target: agent, TimeoutSeconds: defaultRingSeconds, Reason: "inbound"}
}

// StaticAgents resolves numbers from a fixed number->identity table.
func StaticAgents(routes map[string]string) AgentResolver {
	return func(ctx context.Context, to string) (string, bool) {
		id, ok := routes[strings.ReplaceAll(to, " ", "")]
		return id, ok && id != ""
	}
}
