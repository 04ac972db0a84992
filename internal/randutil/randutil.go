// Package randutil builds unique names for broker resources.
package randutil

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Suffix returns 8 random hex characters.
func Suffix() string {
	b := make([]byte, 4)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%08x", time.Now().UnixNano()&0xFFFFFFFF)
	}
	return hex.EncodeToString(b)
}

// Name joins the non-empty parts with "-" and appends a Suffix, e.g.
// "burrow-main-1a2b3c4d". Operators use it to tell connections apart in the
// management UI.
func Name(parts ...string) string {
	kept := make([]string, 0, len(parts)+1)
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(append(kept, Suffix()), "-")
}
