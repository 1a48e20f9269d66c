package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultTwilioBaseURL = "https://api.twilio.com"

// twilioTimeLayout is the RFC 2822 style Twilio uses for start_time/end_time.
const twilioTimeLayout = time.RFC1123Z

// TwilioProvider talks to the Twilio Calls REST API.
// Only the handful of endpoints the dialer needs are implemented.
type TwilioProvider struct {
	accountSID string
	authToken  string
	baseURL    string
	client     *http.Client
}

type TwilioOptions struct {
	AccountSID string
	AuthToken  string
	// BaseURL defaults to https://api.twilio.com; tests point it at httptest.
	BaseURL string
	Timeout time.Duration
	// HTTPClient overrides the default client (Timeout is ignored when set).
	HTTPClient *http.Client
}

func NewTwilioProvider(opts TwilioOptions) (*TwilioProvider, error) {
	if opts.AccountSID == "" || opts.AuthToken == "" {
		return nil, errors.New("telephony: twilio account sid and auth token are required")
	}
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = defaultTwilioBaseURL
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &TwilioProvider{
		accountSID: opts.AccountSID,
		authToken:  opts.AuthToken,
		baseURL:    base,
		client:     client,
	}, nil
}

func (p *TwilioProvider) Name() string { return "twilio" }

func (p *TwilioProvider) HealthCheck(ctx context.Context) error {
	return p.do(ctx, http.MethodGet, p.accountPath(".json"), nil, nil)
}

// APIError is a non-2xx answer from Twilio.
type APIError struct {
	HTTPStatus int    `json:"status"`
	Code       int    `json:"code"`
	Message    string `json:"message"`
	MoreInfo   string `json:"more_info"`
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("twilio: %d (code %d): %s", e.HTTPStatus, e.Code, e.Message)
	}
	return fmt.Sprintf("twilio: %d: %s", e.HTTPStatus, e.Message)
}

// twilioCall is the subset of the Call resource we read.
type twilioCall struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	To        string `json:"to"`
	From      string `json:"from"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, req PlaceCallRequest) (CallSession, error) {
	if strings.TrimSpace(req.To) == "" {
		return CallSession{}, errors.New("telephony: destination number required")
	}
	if strings.TrimSpace(req.From) == "" {
		return CallSession{}, errors.New("telephony: twilio requires a from number")
	}
	twiml, err := RenderBridge(req.ConnectTo)
	if err != nil {
		return CallSession{}, err
	}

	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.From)
	form.Set("Twiml", twiml)
	if req.StatusCallbackURL != "" {
		form.Set("StatusCallback", req.StatusCallbackURL)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range []string{"initiated", "ringing", "answered", "completed"} {
			form.Add("StatusCallbackEvent", ev)
		}
	}

	var out twilioCall
	if err := p.do(ctx, http.MethodPost, p.accountPath("/Calls.json"), form, &out); err != nil {
		return CallSession{}, err
	}
	if out.SID == "" {
		return CallSession{}, errors.New("telephony: twilio returned no call sid")
	}
	return CallSession{SID: out.SID, Status: ProviderStatus(out.Status)}, nil
}

func (p *TwilioProvider) EndCall(ctx context.Context, sid string) error {
	if sid == "" {
		return errors.New("telephony: call sid required")
	}
	form := url.Values{}
	form.Set("Status", string(StatusCompleted))
	return p.do(ctx, http.MethodPost, p.accountPath("/Calls/"+url.PathEscape(sid)+".json"), form, nil)
}

func (p *TwilioProvider) GetCallStatus(ctx context.Context, sid string) (CallInfo, error) {
	if sid == "" {
		return CallInfo{}, errors.New("telephony: call sid required")
	}
	var out twilioCall
	if err := p.do(ctx, http.MethodGet, p.accountPath("/Calls/"+url.PathEscape(sid)+".json"), nil, &out); err != nil {
		return CallInfo{}, err
	}

	info := CallInfo{
		SID:    out.SID,
		Status: ProviderStatus(out.Status),
		To:     out.To,
		From:   out.From,
	}
	if out.Duration != "" {
		if n, err := strconv.Atoi(out.Duration); err == nil {
			info.DurationSeconds = n
		}
	}
	if out.StartTime != "" {
		if ts, err := time.Parse(twilioTimeLayout, out.StartTime); err == nil {
			ts = ts.UTC()
			info.StartedAt = &ts
		}
	}
	return info, nil
}

func (p *TwilioProvider) accountPath(suffix string) string {
	return p.baseURL + "/2010-04-01/Accounts/" + url.PathEscape(p.accountSID) + suffix
}

func (p *TwilioProvider) do(ctx context.Context, method, endpoint string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.SetBasicAuth(p.accountSID, p.authToken)
	req.Header.Set("Accept", "application/json")
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("twilio %s: %w", method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("twilio read body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, apiErr)
		}
		apiErr.HTTPStatus = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}

	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("twilio decode: %w", err)
	}
	return nil
}
