package usecase

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"minutes-agent/internal/domain"
	"minutes-agent/internal/repository"
)

// memStore is an in-memory RecordStore with the same conditional semantics
// as the DynamoDB client, version claims included.
type memStore struct {
	mu     sync.Mutex
	recs   map[string]domain.MinutesRecord
	claims map[string]string

	insertErr error
	appendErr error
	getErr    error
	listErr   error
	appends   int
}

func newMemStore() *memStore {
	return &memStore{recs: map[string]domain.MinutesRecord{}, claims: map[string]string{}}
}

func claimKey(rec domain.MinutesRecord) string {
	return fmt.Sprintf("%s#%d", rec.LineageRoot(), rec.EffectiveVersion())
}

func (m *memStore) InsertRecord(_ context.Context, rec domain.MinutesRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	return m.insertLocked(rec)
}

func (m *memStore) insertLocked(rec domain.MinutesRecord) error {
	if _, ok := m.recs[rec.ID]; ok {
		return repository.ErrConditionFailed
	}
	if _, ok := m.claims[claimKey(rec)]; ok {
		return repository.ErrConditionFailed
	}
	m.recs[rec.ID] = rec
	m.claims[claimKey(rec)] = rec.ID
	return nil
}

func (m *memStore) AppendVersion(_ context.Context, rec domain.MinutesRecord, prevID string, prevLatest bool, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appends++
	if m.appendErr != nil {
		return m.appendErr
	}
	prev, ok := m.recs[prevID]
	if !ok || prev.IsLatest != prevLatest {
		return repository.ErrConditionFailed
	}
	if err := m.insertLocked(rec); err != nil {
		return err
	}
	if prevLatest {
		prev.IsLatest = false
		prev.UpdatedAt = at
		m.recs[prevID] = prev
	}
	return nil
}

func (m *memStore) GetRecord(_ context.Context, id string) (domain.MinutesRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return domain.MinutesRecord{}, m.getErr
	}
	rec, ok := m.recs[id]
	if !ok {
		return domain.MinutesRecord{}, repository.ErrNotFound
	}
	return rec, nil
}

func (m *memStore) ListLineage(_ context.Context, rootID string) ([]domain.MinutesRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []domain.MinutesRecord
	for _, r := range m.recs {
		if r.LineageRoot() == rootID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b domain.MinutesRecord) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

func (m *memStore) FindLatest(ctx context.Context, rootID string) (domain.MinutesRecord, error) {
	recs, err := m.ListLineage(ctx, rootID)
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].IsLatest {
			return recs[i], nil
		}
	}
	return domain.MinutesRecord{}, repository.ErrNotFound
}

func (m *memStore) put(rec domain.MinutesRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = rec
	m.claims[claimKey(rec)] = rec.ID
}

func (m *memStore) latestCount(rootID string) int {
	recs, _ := m.ListLineage(context.Background(), rootID)
	n := 0
	for _, r := range recs {
		if r.IsLatest {
			n++
		}
	}
	return n
}

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("rec-%d", n.Add(1))
	}
}
