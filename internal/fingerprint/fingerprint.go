// Package fingerprint derives a stable content hash for broker messages so a
// message can be referred to across separate basic.get round-trips.
package fingerprint

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"hash"
	"sort"
	"strconv"
	"time"

	"github.com/epalmerini/burrow/internal/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Empty is the fingerprint of a message with no body and no properties.
const Empty = "d41d8cd98f00b204e9800998ecf8427e"

// sessionHeaders change between deliveries of the same message.
var sessionHeaders = map[string]bool{
	rabbitmq.DeliveryCountHeader: true,
}

// Sum returns the lowercase hex MD5 of payload followed by the canonical form
// of props. Channel-scoped delivery fields never take part. A nil props adds
// nothing, so Sum(nil, nil) == Empty.
func Sum(payload []byte, props *rabbitmq.Properties) string {
	h := md5.New()
	h.Write(payload)
	if props != nil {
		writeProperties(h, props)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Message fingerprints a fetched message over its body and properties.
func Message(m rabbitmq.Message) string {
	return Sum(m.Body, &m.Properties)
}

func writeProperties(h hash.Hash, p *rabbitmq.Properties) {
	field := func(name, value string) {
		fmt.Fprintf(h, "%s=%s;", name, strconv.Quote(value))
	}

	field("content_type", p.ContentType)
	field("content_encoding", p.ContentEncoding)
	field("delivery_mode", strconv.Itoa(int(p.DeliveryMode)))
	field("priority", strconv.Itoa(int(p.Priority)))
	field("correlation_id", p.CorrelationID)
	field("reply_to", p.ReplyTo)
	field("expiration", p.Expiration)
	field("message_id", p.MessageID)
	field("timestamp", formatTime(p.Timestamp))
	field("type", p.Type)
	field("user_id", p.UserID)
	field("app_id", p.AppID)
	field("exchange", p.Exchange)
	field("routing_key", p.RoutingKey)

	headers := make(map[string]any, len(p.Headers))
	for k, v := range p.Headers {
		if sessionHeaders[k] {
			continue
		}
		headers[k] = v
	}
	h.Write([]byte("headers="))
	writeValue(h, headers)
	h.Write([]byte(";"))
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// writeValue writes a type-tagged, key-sorted rendering of an AMQP field value.
func writeValue(h hash.Hash, v any) {
	switch val := v.(type) {
	case nil:
		h.Write([]byte("null"))
	case string:
		h.Write([]byte("s:" + strconv.Quote(val)))
	case []byte:
		h.Write([]byte("b:" + hex.EncodeToString(val)))
	case bool:
		h.Write([]byte("t:" + strconv.FormatBool(val)))
	case int8, int16, int32, int64, int, uint8, uint16, uint32, uint64, uint:
		fmt.Fprintf(h, "i:%d", val)
	case float32:
		writeFloat(h, float64(val))
	case float64:
		writeFloat(h, val)
	case time.Time:
		h.Write([]byte("d:" + formatTime(val)))
	case map[string]any:
		writeTable(h, val)
	case amqp.Table:
		writeTable(h, val)
	case []any:
		h.Write([]byte("["))
		for i, item := range val {
			if i > 0 {
				h.Write([]byte(","))
			}
			writeValue(h, item)
		}
		h.Write([]byte("]"))
	default:
		fmt.Fprintf(h, "%T:%v", val, val)
	}
}

func writeFloat(h hash.Hash, f float64) {
	h.Write([]byte("f:" + strconv.FormatFloat(f, 'g', -1, 64)))
}

func writeTable(h hash.Hash, table map[string]any) {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h.Write([]byte("{"))
	for i, k := range keys {
		if i > 0 {
			h.Write([]byte(","))
		}
		h.Write([]byte(strconv.Quote(k) + ":"))
		writeValue(h, table[k])
	}
	h.Write([]byte("}"))
}
