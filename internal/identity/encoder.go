// Package identity resolves verified external claims to internal users and
// owns the generated identifier and display-name strategies.
package identity

import (
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// IDEncoder produces opaque user ids. Ids are permanent once assigned.
type IDEncoder interface {
	NewID() string
}

// NewIDEncoder returns the encoder for the configured strategy.
func NewIDEncoder(strategy string) (IDEncoder, error) {
	switch strategy {
	case "uuid":
		return &uuidEncoder{}, nil
	case "sequence":
		return &sequenceEncoder{}, nil
	default:
		return nil, fmt.Errorf("unknown id encoder strategy %q", strategy)
	}
}

type uuidEncoder struct{}

func (e *uuidEncoder) NewID() string { return uuid.NewString() }

// sequenceEncoder issues ids from a monotonic counter run through a fixed
// Feistel permutation, so consecutive users do not get consecutive-looking
// ids while each counter value still maps to exactly one id.
type sequenceEncoder struct {
	counter atomic.Uint64
}

var sequenceKeys = [4]uint32{0x9e3779b9, 0x85ebca6b, 0xc2b2ae35, 0x27d4eb2f}

func (e *sequenceEncoder) NewID() string {
	n := permute(e.counter.Add(1))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], n)
	return strings.ToLower(base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf[:]))
}

// permute is a four-round balanced Feistel network over the 64-bit counter.
// It is a bijection, so distinct counter values never collide.
func permute(n uint64) uint64 {
	left := uint32(n >> 32)
	right := uint32(n)
	for _, key := range sequenceKeys {
		left, right = right, left^round(right, key)
	}
	return uint64(left)<<32 | uint64(right)
}

func round(half, key uint32) uint32 {
	x := half ^ key
	x ^= x >> 16
	x *= 0x7feb352d
	x ^= x >> 15
	x *= 0x846ca68b
	x ^= x >> 16
	return x
}
