package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"settlement-crm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// HeaderTwilioSignature carries the request signature Twilio computes with the account auth token.
const HeaderTwilioSignature = "X-Twilio-Signature"

// TwilioStatusForm is the subset of status callback fields the dialer reads.
// Twilio posts application/x-www-form-urlencoded.
type TwilioStatusForm struct {
	CallSid        string
	AccountSid     string
	CallStatus     string
	CallDuration   string
	From           string
	To             string
	Direction      string
	Timestamp      string
	SequenceNumber string
	ApiVersion     string
}

var ErrMissingCallSid = errors.New("telephony: status callback without CallSid")

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	f := TwilioStatusForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		AccountSid:     r.PostFormValue("AccountSid"),
		CallStatus:     strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration:   r.PostFormValue("CallDuration"),
		From:           strings.TrimSpace(r.PostFormValue("From")),
		To:             strings.TrimSpace(r.PostFormValue("To")),
		Direction:      r.PostFormValue("Direction"),
		Timestamp:      r.PostFormValue("Timestamp"),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		ApiVersion:     r.PostFormValue("ApiVersion"),
	}
	if f.CallSid == "" {
		return TwilioStatusForm{}, ErrMissingCallSid
	}
	return f, nil
}

// ToStatusEvent normalizes the form. Timestamp wins over receivedAt when Twilio sent a parsable one.
func (f TwilioStatusForm) ToStatusEvent(receivedAt time.Time) StatusEvent {
	ev := StatusEvent{
		SID:        f.CallSid,
		Status:     ProviderStatus(strings.ToLower(f.CallStatus)),
		OccurredAt: receivedAt,
	}
	if f.CallDuration != "" {
		if n, err := strconv.Atoi(f.CallDuration); err == nil && n >= 0 {
			ev.DurationSeconds = n
		}
	}
	if f.Timestamp != "" {
		if ts, err := time.Parse(twilioTimeLayout, f.Timestamp); err == nil {
			ev.OccurredAt = ts.UTC()
		}
	}
	return ev
}

// ValidateSignature checks X-Twilio-Signature: base64(HMAC-SHA1(authToken, url + sorted key/value pairs)).
func ValidateSignature(authToken, fullURL string, params url.Values, signature string) bool {
	if authToken == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(authToken, fullURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func ComputeSignature(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		for _, v := range params[k] {
			b.WriteString(k)
			b.WriteString(v)
		}
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// StatusCallbackHandler receives Twilio call progress webhooks and hands them to the sink.
//
// Twilio retries on non-2xx, so sink failures are logged and acknowledged;
// only malformed or forged requests are rejected.
type StatusCallbackHandler struct {
	Sink StatusSink

	// AuthToken enables signature validation when set.
	AuthToken string
	// PublicURL is the externally visible URL Twilio signed. Required with AuthToken
	// because the service usually sits behind a proxy.
	PublicURL string

	Now func() time.Time
}

func (h StatusCallbackHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Now == nil {
		h.Now = time.Now
	}
	if h.Sink == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "status sink not configured"})
		return
	}

	form, err := ParseTwilioStatusCallback(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return
	}

	if h.AuthToken != "" {
		sig := c.GetHeader(HeaderTwilioSignature)
		if !ValidateSignature(h.AuthToken, h.PublicURL, c.Request.PostForm, sig) {
			log.Warn("twilio signature rejected", "call_sid", form.CallSid)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
	}

	ev := form.ToStatusEvent(h.Now().UTC())
	if !ev.Status.Valid() {
		log.Warn("twilio status unknown", "call_sid", ev.SID)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unknown CallStatus"})
		return
	}
	if err := h.Sink.HandleProviderStatus(c.Request.Context(), ev); err != nil {
		log.Error("provider status not applied", "call_sid", ev.SID, "status", ev.Status, "err", err)
	}
	c.Status(http.StatusNoContent)
}
