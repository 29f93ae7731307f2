package telephony

import (
	"net/http"
	"strings"
)

const clientPrefix = "client:"

// VoiceRequest is the subset of the voice webhook form we act on. The vendor
// posts application/x-www-form-urlencoded.
type VoiceRequest struct {
	CallSid    string
	AccountSid string
	From       string
	To         string
	Direction  string
	CallStatus string
	CallerName string
}

// ParseVoiceRequest reads the webhook form. The returned map holds every
// posted field and is what the request signature covers.
func ParseVoiceRequest(r *http.Request) (VoiceRequest, map[string]string, error) {
	if err := r.ParseForm(); err != nil {
		return VoiceRequest{}, nil, err
	}
	params := make(map[string]string, len(r.PostForm))
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	v := VoiceRequest{
		CallSid:    params["CallSid"],
		AccountSid: params["AccountSid"],
		From:       normalizePhone(params["From"]),
		To:         normalizePhone(params["To"]),
		Direction:  params["Direction"],
		CallStatus: params["CallStatus"],
		CallerName: params["CallerName"],
	}
	return v, params, nil
}

// FromClient reports whether the call was placed by a softphone device.
func (v VoiceRequest) FromClient() bool {
	return strings.HasPrefix(v.From, clientPrefix)
}

// ClientIdentity returns the agent identity of a "client:<identity>" address.
func ClientIdentity(addr string) (string, bool) {
	if !strings.HasPrefix(addr, clientPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(addr, clientPrefix)
	return id, id != ""
}

func normalizePhone(s string) string {
	// "anonymous" and empty values are kept as-is.
	return strings.TrimSpace(s)
}
