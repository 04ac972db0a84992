// Package message turns fetched broker messages into bounded, display-safe
// views.
package message

import (
	"strings"
	"unicode/utf8"

	"github.com/epalmerini/burrow/internal/fingerprint"
	"github.com/epalmerini/burrow/internal/rabbitmq"
)

// DefaultMaxBodyLen is the number of body bytes kept in a View.
const DefaultMaxBodyLen = 256

const internalHeaderPrefix = "x-"

// Internal headers that are still shown because they explain why a message
// was dead-lettered.
const (
	HeaderExceptionMessage   = "x-exception-message"
	HeaderOriginalRoutingKey = "x-original-routingKey"
	HeaderOriginalExchange   = "x-original-exchange"
)

var allowedInternalHeaders = map[string]bool{
	HeaderExceptionMessage:   true,
	HeaderOriginalRoutingKey: true,
	HeaderOriginalExchange:   true,
}

const (
	idPrefixMessageID   = "i_"
	idPrefixFingerprint = "f_"
)

// View is what callers get to see of a message.
type View struct {
	ID          string         `json:"id"`
	Body        string         `json:"body"`
	Headers     map[string]any `json:"headers"`
	Fingerprint string         `json:"fingerprint"`
	Decoded     map[string]any `json:"decoded,omitempty"`
}

// Decoder decodes binary bodies for display, using the routing key as a hint.
type Decoder interface {
	DecodeWithHint(data []byte, routingKey string) (map[string]any, error)
}

type Converter struct {
	maxBodyLen int
	decoder    Decoder
}

// NewConverter returns a Converter truncating bodies to maxBodyLen bytes
// (DefaultMaxBodyLen when <= 0). decoder may be nil.
func NewConverter(maxBodyLen int, decoder Decoder) *Converter {
	if maxBodyLen <= 0 {
		maxBodyLen = DefaultMaxBodyLen
	}
	return &Converter{maxBodyLen: maxBodyLen, decoder: decoder}
}

// Convert builds the View of m. The fingerprint covers the full body and all
// original headers, not the filtered ones.
func (c *Converter) Convert(m rabbitmq.Message) View {
	fp := fingerprint.Message(m)

	v := View{
		ID:          Identity(m.MessageID, fp),
		Body:        Truncate(m.Body, c.maxBodyLen),
		Headers:     FilterHeaders(m.Headers),
		Fingerprint: fp,
	}

	if c.decoder != nil && len(m.Body) > 0 {
		if decoded, err := c.decoder.DecodeWithHint(m.Body, m.RoutingKey); err == nil {
			v.Decoded = decoded
		}
	}

	return v
}

// Identity prefers the broker message id and falls back to the fingerprint.
func Identity(messageID, fingerprint string) string {
	if messageID != "" {
		return idPrefixMessageID + messageID
	}
	return idPrefixFingerprint + fingerprint
}

// FilterHeaders drops internal x- headers except the allowed diagnostic ones.
func FilterHeaders(headers map[string]any) map[string]any {
	out := make(map[string]any, len(headers))
	for k, v := range headers {
		if strings.HasPrefix(k, internalHeaderPrefix) && !allowedInternalHeaders[k] {
			continue
		}
		out[k] = v
	}
	return out
}

// Truncate returns at most max bytes of body as a string without splitting a
// UTF-8 sequence. Bodies that are not UTF-8 are cut at max.
func Truncate(body []byte, max int) string {
	if len(body) <= max {
		return string(body)
	}

	cut := max
	for i := 0; i < utf8.UTFMax-1 && cut > 0 && !utf8.RuneStart(body[cut]); i++ {
		cut--
	}
	if !utf8.RuneStart(body[cut]) {
		cut = max
	}
	return string(body[:cut])
}
