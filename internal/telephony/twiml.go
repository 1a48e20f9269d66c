package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// Minimal TwiML builder for the answered outbound leg.
// It avoids any provider SDK dependency.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlDial struct {
	XMLName        xml.Name  `xml:"Dial"`
	AnswerOnBridge bool      `xml:"answerOnBridge,attr,omitempty"`
	Number         string    `xml:"Number,omitempty"`
	Client         string    `xml:"Client,omitempty"`
	Sip            *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

var ErrEmptyBridgeTarget = errors.New("telephony: bridge target required")

// RenderBridge returns TwiML that connects the answered lead to target.
// Targets: "client:<identity>" (browser softphone), "sip:<uri>", or a PSTN number.
func RenderBridge(target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return "", ErrEmptyBridgeTarget
	}

	d := twimlDial{AnswerOnBridge: true}
	lower := strings.ToLower(target)
	switch {
	case strings.HasPrefix(lower, "client:"):
		d.Client = strings.TrimSpace(target[len("client:"):])
		if d.Client == "" {
			return "", ErrEmptyBridgeTarget
		}
	case strings.HasPrefix(lower, "sip:"):
		d.Sip = &twimlSip{URI: target}
	default:
		d.Number = target
	}
	return encodeTwiML(twimlResponse{Verbs: []any{d}})
}

func encodeTwiML(r twimlResponse) (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
