package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestParseVoiceRequest(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&From=client%3Aagent-1&To=%2B15557654321&Direction=inbound")
	r := httptest.NewRequest(http.MethodPost, "/v1/telephony/voice", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	v, params, err := ParseVoiceRequest(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if v.CallSid != "CA123" || v.To != "+15557654321" || !v.FromClient() {
		t.Fatalf("unexpected request %+v", v)
	}
	if len(params) != 4 || params["From"] != "client:agent-1" {
		t.Fatalf("unexpected params %v", params)
	}
}

// sign computes the webhook signature: base64(HMAC-SHA1(token, url + sorted key/value pairs)).
func sign(token, u string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(u)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func webhookRouter(authToken, publicURL string, router Router) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/v1/telephony/voice", RequireSignature(authToken, publicURL), VoiceWebhookHandler{Router: router}.HandleVoice)
	return r
}

func postVoice(r *gin.Engine, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/telephony/voice", strings.NewReader(form.Encode()))
	req.Host = "phone.example.com"
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestVoiceWebhook_SignedOutboundCall(t *testing.T) {
	const publicURL = "https://phone.example.com/v1/telephony/voice"
	r := webhookRouter("auth-token", publicURL, Router{CallerID: "+15550001111"})

	form := url.Values{"CallSid": {"CA1"}, "From": {"client:agent-1"}, "To": {"+15557654321"}}
	w := postVoice(r, form, sign("auth-token", publicURL, form))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("expected xml content type, got %q", ct)
	}
	if !strings.Contains(w.Body.String(), "<Number>+15557654321</Number>") {
		t.Fatalf("unexpected twiml %s", w.Body.String())
	}
}

func TestVoiceWebhook_RejectsBadSignature(t *testing.T) {
	const publicURL = "https://phone.example.com/v1/telephony/voice"
	r := webhookRouter("auth-token", publicURL, Router{CallerID: "+15550001111"})

	form := url.Values{"CallSid": {"CA1"}, "From": {"client:agent-1"}, "To": {"+15557654321"}}
	if w := postVoice(r, form, sign("other-token", publicURL, form)); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if w := postVoice(r, form, ""); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}
}

func TestVoiceWebhook_UnsignedWhenDisabled(t *testing.T) {
	r := webhookRouter("", "", Router{Agents: StaticAgents(map[string]string{"+15550001111": "agent-1"})})

	w := postVoice(r, url.Values{"CallSid": {"CA2"}, "From": {"+15551234567"}, "To": {"+15550001111"}}, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Client>agent-1</Client>") {
		t.Fatalf("expected agent dialed, got %d %s", w.Code, w.Body.String())
	}

	if w := postVoice(r, url.Values{"From": {"+1"}}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without CallSid, got %d", w.Code)
	}
}
