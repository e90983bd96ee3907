// Package idgen generates the opaque string tokens used throughout the
// wire protocol and data model: message ids (`@`), machine ids, and the
// fresh child ids minted by Chain.Set. Randomness is sourced through
// google/uuid's CSPRNG-backed generator rather than raw crypto/rand calls,
// so a single, already-vetted source of entropy is shared across the repo.
package idgen

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
)

// ErrMalformedHex is returned by DecodeLegacyHex when the input is neither
// valid standard hex nor the tolerated trailing-nibble variant.
var ErrMalformedHex = errors.New("idgen: malformed hex string")

// randomHex returns n hex characters drawn from the bytes of as many
// UUIDv4s as needed (each supplies 32 hex digits).
func randomHex(n int) string {
	var b []byte
	for len(b)*2 < n {
		id := uuid.New()
		b = append(b, id[:]...)
	}
	return hex.EncodeToString(b)[:n]
}

// NewMessageID mints the 8-char opaque token used as a message's `@`.
func NewMessageID() string {
	return randomHex(8)
}

// NewMachineID mints the 8-char opaque token identifying a writing process
// (the `_.machineId` envelope field, §3).
func NewMachineID() string {
	return randomHex(8)
}

// NewSetID mints the 16-char opaque child id used by Chain.Set (§4.12).
func NewSetID() string {
	return randomHex(16)
}

// NewErrorID mints the opaque errorId attached to every HamError (§4.13).
func NewErrorID() string {
	return randomHex(12)
}

// EncodeHex renders b as standard lowercase hex.
func EncodeHex(b []byte) string {
	return hex.EncodeToString(b)
}

// DecodeLegacyHex decodes a hex string produced either by EncodeHex or by
// the upstream ecosystem's non-standard encoder, which appends an extra
// trailing '0' digit whenever the true final nibble is zero, yielding an
// odd-length string. Per spec.md §9's design note: new implementations emit
// standard hex (EncodeHex) and tolerate the legacy variant on decode.
func DecodeLegacyHex(s string) ([]byte, error) {
	if len(s)%2 == 0 {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, ErrMalformedHex
		}
		return b, nil
	}
	if !strings.HasSuffix(s, "0") {
		return nil, ErrMalformedHex
	}
	b, err := hex.DecodeString(s[:len(s)-1])
	if err != nil {
		return nil, ErrMalformedHex
	}
	return b, nil
}
