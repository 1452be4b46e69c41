package state

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrLeaseHeld is returned when Acquire fails because another owner
// currently holds an unexpired lease for the key.
var ErrLeaseHeld = errors.New("lease held by another owner")

// leaseRecord is the payload stored under a lease key.
type leaseRecord struct {
	Owner     string    `json:"owner"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Lease coordinates singleton work (a scan mode, a project's consolidation
// run) across potentially many worker processes sharing one
// PersistentState backend. It is a TTL'd compare-and-swap, not a true
// distributed lock — a stuck owner is recovered automatically once its
// lease expires.
type Lease struct {
	state *PersistentState
}

// NewLease wraps state as a lease coordinator. Callers typically construct
// one PersistentState per logical namespace (e.g. "lease:") and share it.
func NewLease(state *PersistentState) *Lease {
	return &Lease{state: state}
}

// Acquire attempts to take ownership of key for ttl. It succeeds if no
// lease exists, the existing lease has expired, or it is already held by
// owner (re-entrant renewal).
func (l *Lease) Acquire(ctx context.Context, key, owner string, ttl time.Duration) error {
	now := time.Now().UTC()
	existing, err := l.load(ctx, key)
	if err == nil && existing != nil {
		if existing.Owner != owner && existing.ExpiresAt.After(now) {
			return ErrLeaseHeld
		}
	}

	record := leaseRecord{Owner: owner, ExpiresAt: now.Add(ttl)}
	data, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return l.state.Save(ctx, key, data)
}

// Renew extends an already-held lease; it fails with ErrLeaseHeld if owner
// no longer holds it.
func (l *Lease) Renew(ctx context.Context, key, owner string, ttl time.Duration) error {
	existing, err := l.load(ctx, key)
	if err != nil {
		return err
	}
	if existing == nil || existing.Owner != owner {
		return ErrLeaseHeld
	}
	return l.Acquire(ctx, key, owner, ttl)
}

// Release drops a lease if owner currently holds it; releasing a lease you
// don't hold is a silent no-op.
func (l *Lease) Release(ctx context.Context, key, owner string) error {
	existing, err := l.load(ctx, key)
	if err != nil || existing == nil {
		return nil
	}
	if existing.Owner != owner {
		return nil
	}
	return l.state.Delete(ctx, key)
}

// Holder reports the current owner and whether the lease is live (i.e. not
// expired). A missing lease returns ("", false, nil).
func (l *Lease) Holder(ctx context.Context, key string) (owner string, live bool, err error) {
	existing, err := l.load(ctx, key)
	if err != nil || existing == nil {
		return "", false, nil
	}
	return existing.Owner, existing.ExpiresAt.After(time.Now().UTC()), nil
}

func (l *Lease) load(ctx context.Context, key string) (*leaseRecord, error) {
	data, err := l.state.Load(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var record leaseRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}
