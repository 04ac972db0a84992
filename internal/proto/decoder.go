// Package proto decodes protobuf message bodies for display when a directory
// of .proto files is configured.
package proto

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/jhump/protoreflect/desc"
	"github.com/jhump/protoreflect/desc/protoparse"
	"github.com/jhump/protoreflect/dynamic"
)

// hintBoost outweighs any realistic populated-field count.
const hintBoost = 1000

// Decoder guesses the message type of a protobuf body among the types parsed
// from a directory.
type Decoder struct {
	messages []*desc.MessageDescriptor
	// Skipped lists files that failed to parse, with their error.
	Skipped []string
}

// NewDecoder parses every .proto file below dir. Files that fail to parse are
// skipped and reported in Skipped; an error is returned only if nothing could
// be loaded.
func NewDecoder(dir string) (*Decoder, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".proto") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk proto path: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .proto files found in %s", dir)
	}

	parser := protoparse.Parser{ImportPaths: []string{dir}}

	d := &Decoder{}
	for _, f := range files {
		fds, err := parser.ParseFiles(f)
		if err != nil {
			d.Skipped = append(d.Skipped, fmt.Sprintf("%s: %v", f, err))
			continue
		}
		for _, fd := range fds {
			d.messages = append(d.messages, fd.GetMessageTypes()...)
		}
	}
	if len(d.messages) == 0 {
		return nil, fmt.Errorf("no message types loaded from %s", dir)
	}
	return d, nil
}

// DecodeWithHint tries every known type and keeps the one that populates the
// most fields, strongly preferring the type named by the routing key.
func (d *Decoder) DecodeWithHint(data []byte, routingKey string) (map[string]any, error) {
	if d == nil || len(d.messages) == 0 {
		return nil, fmt.Errorf("no message types loaded")
	}

	hint := typeHint(routingKey)

	var best *dynamic.Message
	var bestName string
	bestScore := 0

	for _, md := range d.messages {
		msg := dynamic.NewMessage(md)
		if err := msg.Unmarshal(data); err != nil {
			continue
		}

		score := populatedFields(msg)
		if hint != "" && strings.EqualFold(md.GetName(), hint) {
			score += hintBoost
		}
		if score > bestScore {
			best, bestName, bestScore = msg, md.GetFullyQualifiedName(), score
		}
	}

	if best == nil {
		return nil, fmt.Errorf("could not decode with any known message type")
	}

	out := toMap(best)
	out["@type"] = bestName
	return out, nil
}

// typeHint maps the last two routing key segments to a PascalCase type
// name: "orders.eu.order_line.rejected" -> "OrderLineRejected".
func typeHint(routingKey string) string {
	parts := strings.Split(routingKey, ".")
	if len(parts) < 2 {
		return ""
	}
	return pascal(parts[len(parts)-2]) + pascal(parts[len(parts)-1])
}

func pascal(s string) string {
	var b strings.Builder
	for _, word := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool { return r == '_' || r == '-' }) {
		b.WriteString(strings.ToUpper(word[:1]))
		b.WriteString(word[1:])
	}
	return b.String()
}

func populatedFields(msg *dynamic.Message) int {
	n := 0
	for _, fd := range msg.GetKnownFields() {
		if msg.HasField(fd) {
			n++
		}
	}
	return n
}

func toMap(msg *dynamic.Message) map[string]any {
	out := make(map[string]any)
	for _, fd := range msg.GetKnownFields() {
		if msg.HasField(fd) {
			out[fd.GetName()] = convert(msg.GetField(fd))
		}
	}
	return out
}

func convert(val any) any {
	switch v := val.(type) {
	case *dynamic.Message:
		return toMap(v)
	case []byte:
		if printable(v) {
			return string(v)
		}
		return fmt.Sprintf("0x%x", v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = convert(item)
		}
		return out
	default:
		return v
	}
}

func printable(data []byte) bool {
	for _, b := range data {
		if b < 32 && b != '\n' && b != '\r' && b != '\t' {
			return false
		}
	}
	return true
}
