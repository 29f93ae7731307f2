package reporting

import (
	"context"
	"errors"

	"softphone/internal/audit"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source reads the call journal. *audit.Service implements it.
//
// IMPORTANT: implementations must enforce workspace filtering.
type Source interface {
	History(ctx context.Context, q audit.Query) ([]audit.Event, error)
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

// CallsSummary aggregates the journal over req.Range. Talk time counts calls
// whose connect and disconnect both fall inside the range.
func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.WorkspaceID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: journal not configured")
	}

	rows, err := s.src.History(ctx, audit.Query{
		WorkspaceID: req.WorkspaceID,
		Identity:    req.Identity,
		Since:       req.Range.From,
		Until:       req.Range.To,
		Limit:       audit.MaxLimit,
	})
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{
		WorkspaceID: req.WorkspaceID,
		Identity:    req.Identity,
		Range:       req.Range,
		Truncated:   len(rows) >= audit.MaxLimit,
	}

	// rows are newest first
	connected := make(map[string]audit.Event)
	for i := len(rows) - 1; i >= 0; i-- {
		e := rows[i]
		switch e.Type {
		case audit.EventCallIncoming:
			out.IncomingCalls++
		case audit.EventCallAnswered:
			out.AnsweredCalls++
		case audit.EventCallRejected:
			out.RejectedCalls++
		case audit.EventCallCanceled:
			out.MissedCalls++
		case audit.EventCallPlaced:
			out.PlacedCalls++
		case audit.EventDeviceError:
			out.DeviceErrors++
		case audit.EventCallConnected:
			out.ConnectedCalls++
			if e.CallSID != "" {
				connected[e.CallSID] = e
			}
		case audit.EventCallDisconnected:
			out.CompletedCalls++
			start, ok := connected[e.CallSID]
			if !ok {
				continue
			}
			delete(connected, e.CallSID)
			if d := e.CreatedAt.Sub(start.CreatedAt); d > 0 {
				out.TotalTalkSeconds += int(d.Seconds())
			}
		}
	}
	if out.CompletedCalls > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / out.CompletedCalls
	}
	return out, nil
}
