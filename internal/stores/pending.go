package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrEthical07/sessionkit/kvstore"
)

var ErrPendingUnavailable = errors.New("pending confirmation store unavailable")

type PendingRecord struct {
	Email       string     `json:"email"`
	CreatedAt   time.Time  `json:"created_at"`
	DismissedAt *time.Time `json:"dismissed_at,omitempty"`
}

type pendingDocument struct {
	Version int                       `json:"v"`
	Records map[string]*PendingRecord `json:"records"`
}

// PendingStore keeps at most one record per email.
type PendingStore struct {
	kv        kvstore.Store
	key       string
	retention time.Duration
	now       func() time.Time

	mu sync.Mutex
}

func NewPendingStore(kv kvstore.Store, prefix string, retention time.Duration, now func() time.Time) *PendingStore {
	if now == nil {
		now = time.Now
	}
	return &PendingStore{
		kv:        kv,
		key:       prefix + "pending",
		retention: retention,
		now:       now,
	}
}

// Key returns the store key the document lives under.
func (s *PendingStore) Key() string {
	return s.key
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Upsert creates the record for email or refreshes its CreatedAt. A refreshed
// record is no longer dismissed.
func (s *PendingStore) Upsert(ctx context.Context, email string) (PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return PendingRecord{}, err
	}
	key := normalizeEmail(email)
	rec := &PendingRecord{Email: key, CreatedAt: s.now()}
	doc.Records[key] = rec
	if err := s.save(ctx, doc); err != nil {
		return PendingRecord{}, err
	}
	return *rec, nil
}

// List returns records ordered by CreatedAt, dismissed ones included. Dismissed
// records past retention are purged and the purge is written back.
func (s *PendingStore) List(ctx context.Context) ([]PendingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-s.retention)
	purged := false
	out := make([]PendingRecord, 0, len(doc.Records))
	for key, rec := range doc.Records {
		if rec.DismissedAt != nil && rec.DismissedAt.Before(cutoff) {
			delete(doc.Records, key)
			purged = true
			continue
		}
		out = append(out, *rec)
	}
	if purged {
		if err := s.save(ctx, doc); err != nil {
			return nil, err
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Email < out[j].Email
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Dismiss marks the record for email dismissed. It reports whether one existed.
func (s *PendingStore) Dismiss(ctx context.Context, email string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return false, err
	}
	rec, ok := doc.Records[normalizeEmail(email)]
	if !ok {
		return false, nil
	}
	if rec.DismissedAt == nil {
		now := s.now()
		rec.DismissedAt = &now
	}
	return true, s.save(ctx, doc)
}

// Delete removes the record for email, if any.
func (s *PendingStore) Delete(ctx context.Context, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.load(ctx)
	if err != nil {
		return err
	}
	key := normalizeEmail(email)
	if _, ok := doc.Records[key]; !ok {
		return nil
	}
	delete(doc.Records, key)
	return s.save(ctx, doc)
}

// Clear removes every record.
func (s *PendingStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.kv.Remove(ctx, s.key); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	return nil
}

func (s *PendingStore) load(ctx context.Context) (*pendingDocument, error) {
	doc := &pendingDocument{Version: 1, Records: map[string]*PendingRecord{}}

	raw, err := s.kv.Get(ctx, s.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	// An unreadable document is replaced rather than blocking registration.
	if err := json.Unmarshal([]byte(raw), doc); err != nil || doc.Records == nil {
		return &pendingDocument{Version: 1, Records: map[string]*PendingRecord{}}, nil
	}
	return doc, nil
}

func (s *PendingStore) save(ctx context.Context, doc *pendingDocument) error {
	if len(doc.Records) == 0 {
		if err := s.kv.Remove(ctx, s.key); err != nil {
			return fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
		}
		return nil
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, s.key, string(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrPendingUnavailable, err)
	}
	return nil
}
