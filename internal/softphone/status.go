package softphone

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
)

// Status is the softphone's single visible state label.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusReady        Status = "ready"
	StatusInCall       Status = "in-call"
	StatusError        Status = "error"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDisconnected, StatusReady, StatusInCall, StatusError:
		return true
	default:
		return false
	}
}

// Machine transitions. Device events map onto these one-to-one except
// "incoming", which never changes the status.
const (
	transitionReady      = "ready"
	transitionConnect    = "connect"
	transitionDisconnect = "disconnect"
	transitionFail       = "fail"
)

func newStatusMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusDisconnected),
		fsm.Events{
			{Name: transitionReady, Src: []string{string(StatusDisconnected), string(StatusReady)}, Dst: string(StatusReady)},
			{Name: transitionConnect, Src: []string{string(StatusReady)}, Dst: string(StatusInCall)},
			{Name: transitionDisconnect, Src: []string{string(StatusInCall)}, Dst: string(StatusReady)},
			{Name: transitionFail, Src: []string{string(StatusDisconnected), string(StatusReady), string(StatusInCall)}, Dst: string(StatusError)},
		},
		nil,
	)
}

// fire applies a transition. A transition into the current state is not an
// error; a transition the current state does not allow reports false.
func fire(m *fsm.FSM, transition string) (bool, error) {
	err := m.Event(context.Background(), transition)
	if err == nil {
		return true, nil
	}
	var same fsm.NoTransitionError
	if errors.As(err, &same) {
		return true, nil
	}
	var invalid fsm.InvalidEventError
	if errors.As(err, &invalid) {
		return false, nil
	}
	return false, err
}
