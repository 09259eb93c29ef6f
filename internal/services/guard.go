package services

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/callvault/internal/domain"
	"github.com/tbourn/callvault/internal/repo"
)

// Admission is the guard's verdict on one delivery.
type Admission int

const (
	FirstSeen Admission = iota
	AlreadySeen
)

func (a Admission) String() string {
	if a == AlreadySeen {
		return "already-seen"
	}
	return "first-seen"
}

// maxKeyLen bounds stored keys; longer source keys are hashed.
const maxKeyLen = 200

// Guard deduplicates webhook deliveries. Admission is an insert against a
// unique index, so of two concurrent deliveries with one key exactly one is
// FirstSeen. Keys are remembered for TTL.
type Guard struct {
	DB  *gorm.DB
	TTL time.Duration
	Now func() time.Time
}

// Admit records key for callID inside tx. Callers run it in the same
// transaction as the archive merge it protects.
func (g *Guard) Admit(ctx context.Context, tx *gorm.DB, key, callID string, kind domain.EventKind) (Admission, error) {
	_, err := repo.AdmitReceipt(ctx, tx, key, callID, kind, now(g.Now), g.TTL)
	switch {
	case errors.Is(err, repo.ErrDuplicate):
		return AlreadySeen, nil
	case err != nil:
		return FirstSeen, err
	}
	return FirstSeen, nil
}

// Replay returns the response stored for an already-seen key, or nil when
// the first delivery has not finished yet.
func (g *Guard) Replay(ctx context.Context, key string) ([]byte, error) {
	rec, err := repo.GetReceipt(ctx, g.DB, key, now(g.Now))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(rec.Response) == 0 {
		return nil, nil
	}
	return []byte(rec.Response), nil
}

// Record stores body as the response for key.
func (g *Guard) Record(ctx context.Context, key string, body []byte) error {
	return repo.SaveReceiptResponse(ctx, g.DB, key, body)
}

// Prune forgets keys older than the retention window.
func (g *Guard) Prune(ctx context.Context) (int64, error) {
	return repo.PruneReceipts(ctx, g.DB, now(g.Now))
}

// IdempotencyKey chooses the dedup key for one delivery: the source's
// Idempotency-Key header, else its event id, else a digest of the payload.
// Keys are scoped by kind so the same source key on two endpoints does not
// collide.
func IdempotencyKey(kind domain.EventKind, header, eventID, callID string, payload []byte) string {
	if k := strings.TrimSpace(header); k != "" {
		return scoped(kind, k)
	}
	if k := strings.TrimSpace(eventID); k != "" {
		return scoped(kind, "evt:"+k)
	}
	sum := sha256.Sum256(canonicalJSON(payload))
	return callID + ":" + string(kind) + ":" + hex.EncodeToString(sum[:])
}

func scoped(kind domain.EventKind, k string) string {
	if len(k) > maxKeyLen {
		sum := sha256.Sum256([]byte(k))
		k = "sha256:" + hex.EncodeToString(sum[:])
	}
	return string(kind) + ":" + k
}

// canonicalJSON re-encodes payload with sorted object keys and no
// insignificant whitespace, so semantically equal retries hash alike. Input
// that is not JSON is hashed as-is.
func canonicalJSON(payload []byte) []byte {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return payload
	}
	out, err := json.Marshal(v)
	if err != nil {
		return payload
	}
	return out
}

func now(f func() time.Time) time.Time {
	if f != nil {
		return f().UTC()
	}
	return time.Now().UTC()
}
