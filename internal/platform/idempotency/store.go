// Package idempotency guards the storefront's mutating endpoints against
// duplicate submissions. Shoppers on flaky connections retry checkout; the
// guard claims the Idempotency-Key on first sight, stores the response once
// the handler finishes, and replays that response for every retry carrying
// the same key.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL is how long stored replies remain replayable.
const DefaultTTL = 24 * time.Hour

// RecordState tracks a claim through its lifecycle.
type RecordState string

const (
	// StateInFlight marks a key claimed by a request still being processed.
	StateInFlight RecordState = "in_flight"
	// StateStored marks a key whose response has been persisted for replay.
	StateStored RecordState = "stored"
)

// ClaimOutcome tells the middleware what to do with the incoming request.
type ClaimOutcome int

const (
	// ClaimAccepted means the key is fresh and the handler should run.
	ClaimAccepted ClaimOutcome = iota
	// ClaimReplay means a stored response exists and must be replayed.
	ClaimReplay
	// ClaimInFlight means another request holds the key right now.
	ClaimInFlight
)

// Claim is the result of attempting to take ownership of a key.
type Claim struct {
	Outcome ClaimOutcome
	Record  Record
}

// Record is the persisted state for one idempotency key.
type Record struct {
	Key         string
	RequestSum  string
	State       RecordState
	ReplyStatus int
	ReplyHeader map[string][]string
	ReplyBody   []byte
	FirstSeen   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
}

// Reply is the response captured from the handler for later replay.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

// Store persists claims and their captured replies.
type Store interface {
	Claim(ctx context.Context, key, requestSum string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, requestSum string, reply Reply, now time.Time, ttl time.Duration) error
	Forget(ctx context.Context, key, requestSum string) error
	Sweep(ctx context.Context, now time.Time, limit int) (int, error)
}

// ErrKeyReused reports an idempotency key presented with a different request
// than the one that claimed it.
var ErrKeyReused = errors.New("idempotency: key reused for a different request")

// recordID derives the storage identifier for a key. Keys are shopper
// supplied, so they are hashed rather than used as document IDs directly.
func recordID(key string) string {
	return sha256Hex([]byte(strings.TrimSpace(key)))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func expired(rec Record, now time.Time) bool {
	return !rec.ExpiresAt.IsZero() && !now.Before(rec.ExpiresAt)
}

// storableHeader copies a response header, dropping fields that must not be
// replayed verbatim (hop-by-hop and freshness headers).
func storableHeader(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	kept := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if dropOnReplay(canonical) {
			continue
		}
		kept[canonical] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func dropOnReplay(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive",
		"proxy-authenticate", "proxy-authorization", "te", "trailers",
		"transfer-encoding", "upgrade":
		return true
	}
	return false
}

func headerFromStored(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}
