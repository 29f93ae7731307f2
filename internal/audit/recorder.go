package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"softphone/internal/softphone"
)

const appendTimeout = 2 * time.Second

// Recorder journals the changes of one phone. Attach it with Phone.Observe.
type Recorder struct {
	svc         *Service
	workspaceID string
	log         *slog.Logger

	mu   sync.Mutex
	prev softphone.Snapshot
}

func NewRecorder(svc *Service, workspaceID string, log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{svc: svc, workspaceID: workspaceID, log: log}
}

// OnChange implements softphone.Observer. Append failures are logged only.
func (r *Recorder) OnChange(c softphone.Change) {
	r.mu.Lock()
	prev := r.prev
	r.prev = c.Snapshot
	r.mu.Unlock()

	e, ok := journalEvent(prev, c)
	if !ok {
		return
	}
	e.WorkspaceID = r.workspaceID

	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := r.svc.Append(ctx, e); err != nil {
		r.log.Warn("call journal append failed", "type", string(e.Type), "identity", e.Identity, "err", err)
	}
}

// journalEvent maps a change to a journal event. prev is the snapshot before
// the change; it identifies calls that the new snapshot no longer holds.
func journalEvent(prev softphone.Snapshot, c softphone.Change) (Event, bool) {
	s := c.Snapshot
	e := Event{Identity: string(s.Identity), Status: string(s.Status)}

	switch c.Cause {
	case softphone.CauseMount:
		if c.Err != nil {
			e.Type = EventDeviceError
			e.Message = c.Err.Error()
			break
		}
		if !s.DeviceLive {
			return Event{}, false
		}
		e.Type = EventDeviceMounted
	case softphone.CauseUnmount:
		e.Type = EventDeviceUnmounted
		if e.Identity == "" {
			e.Identity = string(prev.Identity)
		}
	case string(softphone.EventReady):
		e.Type = EventDeviceReady
	case string(softphone.EventError):
		e.Type = EventDeviceError
		if c.Err != nil {
			e.Message = c.Err.Error()
		}
	case string(softphone.EventIncoming):
		e.Type = EventCallIncoming
		withCall(&e, s.Incoming)
	case softphone.CauseAnswer:
		e.Type = EventCallAnswered
		withCall(&e, prev.Incoming)
	case softphone.CauseReject:
		e.Type = EventCallRejected
		withCall(&e, prev.Incoming)
	case softphone.CausePlaceCall:
		e.Type = EventCallPlaced
		e.ToNumber = s.Destination
	case string(softphone.EventConnect):
		e.Type = EventCallConnected
		withCall(&e, s.Active)
	case softphone.CauseHangUp:
		e.Type = EventCallHangUp
		withCall(&e, s.Active)
	case string(softphone.EventDisconnect):
		switch {
		case prev.Active != nil && s.Active == nil:
			e.Type = EventCallDisconnected
			withCall(&e, prev.Active)
		case prev.Incoming != nil && s.Incoming == nil:
			e.Type = EventCallCanceled
			withCall(&e, prev.Incoming)
		default:
			return Event{}, false
		}
	default:
		return Event{}, false
	}
	if e.Identity == "" {
		return Event{}, false
	}
	return e, true
}

func withCall(e *Event, p *softphone.CallParameters) {
	if p == nil {
		return
	}
	e.CallSID = p.CallSID
	e.FromNumber = p.From
	e.ToNumber = p.To
}
