package identity

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sqlguardian/auditor/internal/core"
)

// defaultResurrectionWindow is the duration within which a composite key
// that disappeared and reappeared is still treated as the same logical
// entity: 180 days, matching the worked example for a "grace period"
// grant (DESIGN.md records the decision).
const defaultResurrectionWindow = 180 * 24 * time.Hour

// KeyRecord is what the identity resolver needs to know about a previously
// seen composite key: the UUID it resolved to, the organization it belongs
// to, and when it was last seen (for resurrection-window comparison).
type KeyRecord struct {
	RowUUID      string
	Organization string
	LastSeen     time.Time
}

// PersistedIndex is the lookup seam into the durable store: given a
// composite key, has it been seen before, and under what UUID?
type PersistedIndex interface {
	LookupByUUID(ctx context.Context, rowUUID string) (KeyRecord, bool, error)
	LookupByCompositeKey(ctx context.Context, entityType core.FindingType, compositeKey string) (KeyRecord, bool, error)
}

// Resolver resolves spreadsheet rows and fresh collector output to stable
// row UUIDs, caching recent composite-key lookups so a large sync doesn't
// hit the store once per row for keys it has already resolved this run.
type Resolver struct {
	index              PersistedIndex
	window             time.Duration
	cache              *lru.Cache[string, KeyRecord]
	now                func() time.Time
}

// NewResolver builds a Resolver backed by idx, with an LRU cache sized for
// one sync's worth of distinct composite keys.
func NewResolver(idx PersistedIndex, cacheSize int) (*Resolver, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, KeyRecord](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Resolver{
		index:  idx,
		window: defaultResurrectionWindow,
		cache:  cache,
		now:    time.Now,
	}, nil
}

// WithResurrectionWindow overrides the default window (used by tests and by
// operators who configure a shorter/longer grace period).
func (r *Resolver) WithResurrectionWindow(d time.Duration) *Resolver {
	r.window = d
	return r
}

// Resolve maps a spreadsheet row to a stable row UUID:
//  1. try the row's hidden UUID column;
//  2. on miss, try the composite key;
//  3. on a composite-key hit whose last-seen timestamp falls within the
//     resurrection window for the same organization, reuse that UUID;
//  4. otherwise mint a new UUID.
func (r *Resolver) Resolve(ctx context.Context, organization string, rowUUID string, entityType core.FindingType, compositeKey string) (string, error) {
	normalizedKey := NormalizeKey(compositeKey)

	if rowUUID != "" {
		if rec, ok, err := r.lookupUUID(ctx, rowUUID); err != nil {
			return "", err
		} else if ok {
			r.cache.Add(normalizedKey, rec)
			return rec.RowUUID, nil
		}
		// UUID present on the row but unknown to the store: trust the
		// operator/spreadsheet-supplied identifier rather than minting a
		// new one -- it is still the most stable signal available.
		return rowUUID, nil
	}

	if rec, ok, err := r.lookupCompositeKey(ctx, entityType, normalizedKey); err != nil {
		return "", err
	} else if ok {
		within := r.now().Sub(rec.LastSeen) <= r.window
		sameOrg := organization == "" || rec.Organization == "" || rec.Organization == organization
		if within && sameOrg {
			return rec.RowUUID, nil
		}
	}

	return NewUUID(), nil
}

func (r *Resolver) lookupUUID(ctx context.Context, rowUUID string) (KeyRecord, bool, error) {
	return r.index.LookupByUUID(ctx, rowUUID)
}

func (r *Resolver) lookupCompositeKey(ctx context.Context, entityType core.FindingType, normalizedKey string) (KeyRecord, bool, error) {
	if rec, ok := r.cache.Get(normalizedKey); ok {
		return rec, true, nil
	}
	rec, ok, err := r.index.LookupByCompositeKey(ctx, entityType, normalizedKey)
	if err != nil {
		return KeyRecord{}, false, err
	}
	if ok {
		r.cache.Add(normalizedKey, rec)
	}
	return rec, ok, nil
}
