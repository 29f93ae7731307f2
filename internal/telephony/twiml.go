package telephony

import (
	"errors"
	"strconv"

	"github.com/twilio/twilio-go/twiml"
)

var ErrUnknownAction = errors.New("telephony: unknown decision action")

// RenderTwiML maps a routing decision to a TwiML document.
func RenderTwiML(d Decision) (string, error) {
	var verb twiml.Element

	switch d.Action {
	case ActionReject:
		verb = twiml.VoiceReject{Reason: d.RejectReason}
	case ActionDialNumber:
		if d.Target == "" {
			return "", ErrNoTarget
		}
		verb = dial(d, twiml.VoiceNumber{PhoneNumber: d.Target})
	case ActionDialClient:
		if d.Target == "" {
			return "", ErrNoTarget
		}
		verb = dial(d, twiml.VoiceClient{Identity: d.Target})
	default:
		return "", ErrUnknownAction
	}
	return twiml.Voice([]twiml.Element{verb})
}

func dial(d Decision, noun twiml.Element) twiml.VoiceDial {
	v := twiml.VoiceDial{CallerId: d.CallerID, InnerElements: []twiml.Element{noun}}
	if d.TimeoutSeconds > 0 {
		v.Timeout = strconv.Itoa(d.TimeoutSeconds)
	}
	return v
}
