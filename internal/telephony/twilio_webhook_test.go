package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type recordingSink struct {
	events []StatusEvent
	err    error
}

func (s *recordingSink) HandleProviderStatus(ctx context.Context, ev StatusEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func newStatusRouter(h StatusCallbackHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/webhooks/twilio/status", h.Handle)
	return r
}

func postStatus(r *gin.Engine, form url.Values, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if signature != "" {
		req.Header.Set(HeaderTwilioSignature, signature)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=no-answer&CallDuration=0&To=%2B15551234567")
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" || form.To != "+15551234567" {
		t.Fatalf("unexpected form %+v", form)
	}

	at := time.Unix(1700000000, 0).UTC()
	ev := form.ToStatusEvent(at)
	if ev.Status != StatusNoAnswer || !ev.OccurredAt.Equal(at) {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestParseTwilioStatusCallbackRequiresSid(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallStatus=ringing"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if _, err := ParseTwilioStatusCallback(r); !errors.Is(err, ErrMissingCallSid) {
		t.Fatalf("expected ErrMissingCallSid, got %v", err)
	}
}

func TestComputeSignature(t *testing.T) {
	const (
		token   = "12345"
		fullURL = "https://crm.example/webhooks/twilio/status?tenant=1"
	)
	params := url.Values{}
	params.Set("To", "+18005551212")
	params.Set("CallSid", "CA1234567890ABCDE")
	params.Set("CallStatus", "ringing")

	sig := ComputeSignature(token, fullURL, params)
	if sig == "" {
		t.Fatalf("expected signature")
	}
	if !ValidateSignature(token, fullURL, params, sig) {
		t.Fatalf("expected signature to validate")
	}
	if ValidateSignature("other", fullURL, params, sig) {
		t.Fatalf("expected mismatch with another token")
	}
	if ValidateSignature(token, "https://crm.example/webhooks/twilio/status", params, sig) {
		t.Fatalf("expected mismatch with another url")
	}

	tampered := url.Values{}
	for k, v := range params {
		tampered[k] = v
	}
	tampered.Set("CallStatus", "completed")
	if ValidateSignature(token, fullURL, tampered, sig) {
		t.Fatalf("expected mismatch after tampering")
	}
}

func TestStatusCallbackHandlerDeliversEvent(t *testing.T) {
	sink := &recordingSink{}
	r := newStatusRouter(StatusCallbackHandler{Sink: sink})

	form := url.Values{"CallSid": {"CA9"}, "CallStatus": {"in-progress"}}
	w := postStatus(r, form, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if len(sink.events) != 1 || sink.events[0].SID != "CA9" || sink.events[0].Status != StatusInProgress {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestStatusCallbackHandlerRejectsBadSignature(t *testing.T) {
	sink := &recordingSink{}
	r := newStatusRouter(StatusCallbackHandler{Sink: sink, AuthToken: "tok", PublicURL: "https://crm.example/webhooks/twilio/status"})

	form := url.Values{"CallSid": {"CA9"}, "CallStatus": {"ringing"}}
	if w := postStatus(r, form, "bogus"); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events delivered")
	}

	sig := ComputeSignature("tok", "https://crm.example/webhooks/twilio/status", form)
	if w := postStatus(r, form, sig); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 with valid signature, got %d", w.Code)
	}
}

func TestStatusCallbackHandlerAcksSinkErrors(t *testing.T) {
	sink := &recordingSink{err: errors.New("unknown sid")}
	r := newStatusRouter(StatusCallbackHandler{Sink: sink})

	w := postStatus(r, url.Values{"CallSid": {"CA404"}, "CallStatus": {"completed"}}, "")
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204 so twilio does not retry, got %d", w.Code)
	}
}

func TestStatusCallbackHandlerBadForm(t *testing.T) {
	r := newStatusRouter(StatusCallbackHandler{Sink: &recordingSink{}})
	if w := postStatus(r, url.Values{"CallStatus": {"ringing"}}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestStatusCallbackHandlerRejectsUnknownStatus(t *testing.T) {
	sink := &recordingSink{}
	r := newStatusRouter(StatusCallbackHandler{Sink: sink})
	if w := postStatus(r, url.Values{"CallSid": {"CA9"}, "CallStatus": {"made-up-42"}}, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if len(sink.events) != 0 {
		t.Fatalf("expected no events delivered, got %+v", sink.events)
	}
}
