package usecase

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"minutes-agent/internal/domain"
	"minutes-agent/internal/minutes"
	"minutes-agent/internal/repository"
)

// RecordStore persists MinutesRecords. GetRecord and FindLatest return
// repository.ErrNotFound when nothing matches. InsertRecord and AppendVersion
// also claim the record's version within its lineage, and return
// repository.ErrConditionFailed when the id or the version is taken.
// AppendVersion additionally requires prevID to carry the latest flag
// prevLatest, clears it, and applies all of that atomically.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec domain.MinutesRecord) error
	AppendVersion(ctx context.Context, rec domain.MinutesRecord, prevID string, prevLatest bool, at time.Time) error
	GetRecord(ctx context.Context, id string) (domain.MinutesRecord, error)
	ListLineage(ctx context.Context, rootID string) ([]domain.MinutesRecord, error)
	FindLatest(ctx context.Context, rootID string) (domain.MinutesRecord, error)
}

// VersionService maintains the version lineage of generated minutes: every
// lineage has exactly one record flagged latest, and versions increase by
// one per edit starting at 1.
type VersionService struct {
	store      RecordStore
	normalizer *minutes.Normalizer
	logger     zerolog.Logger
	now        func() time.Time
	newID      func() string
}

type VersionOption func(*VersionService)

func WithVersionLogger(logger zerolog.Logger) VersionOption {
	return func(s *VersionService) {
		s.logger = logger
	}
}

func WithVersionClock(now func() time.Time) VersionOption {
	return func(s *VersionService) {
		if now != nil {
			s.now = now
		}
	}
}

func WithIDGenerator(newID func() string) VersionOption {
	return func(s *VersionService) {
		if newID != nil {
			s.newID = newID
		}
	}
}

func WithEditNormalizer(n *minutes.Normalizer) VersionOption {
	return func(s *VersionService) {
		if n != nil {
			s.normalizer = n
		}
	}
}

func NewVersionService(store RecordStore, opts ...VersionOption) (*VersionService, error) {
	if store == nil {
		return nil, errors.New("usecase: record store must not be nil")
	}
	s := &VersionService{
		store:      store,
		normalizer: minutes.NewNormalizer(nil),
		logger:     zerolog.Nop(),
		now:        time.Now,
		newID:      newUUID,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// CreateRoot persists the first version of a new lineage.
func (s *VersionService) CreateRoot(ctx context.Context, m domain.MeetingMinutes, owner string) (domain.MinutesRecord, error) {
	if owner == "" {
		return domain.MinutesRecord{}, newError(ErrorInvalidInput, "missing_owner", nil)
	}
	now := s.now().UTC()
	id := s.newID()
	rec := domain.MinutesRecord{
		ID:        id,
		OwnerID:   owner,
		RootID:    id,
		Version:   1,
		IsLatest:  true,
		Minutes:   m,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertRecord(ctx, rec); err != nil {
		return domain.MinutesRecord{}, newError(ErrorInternal, "store_write_error", err)
	}
	return rec, nil
}

// CreateEdit stores edited as a new version of the lineage containing
// originalID. edited is untrusted and goes through the normalizer; a typed
// MeetingMinutes is accepted too.
//
// The new record is numbered after the highest version in the lineage, so
// editing an older version still appends at the tip. The tip's latest flag
// is cleared, the new record inserted and its version claimed in one
// conditional write: when another edit got there first the write is rejected
// and the caller gets ErrorConflict.
func (s *VersionService) CreateEdit(ctx context.Context, originalID string, edited any, owner string) (domain.MinutesRecord, error) {
	original, err := s.getRecord(ctx, originalID)
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	if original.OwnerID != owner {
		return domain.MinutesRecord{}, newError(ErrorForbidden, "not_owner", nil)
	}

	if m, ok := edited.(domain.MeetingMinutes); ok {
		edited = minutes.FromMinutes(m)
	}
	doc := s.normalizer.Normalize(edited)

	tip, err := s.tipOf(ctx, original)
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	if !tip.IsLatest {
		s.logger.Warn().Str("root_id", original.LineageRoot()).Str("tip_id", tip.ID).Msg("usecase: lineage tip is not flagged latest, edit will restore the flag")
	}

	now := s.now().UTC()
	rec := domain.MinutesRecord{
		ID:        s.newID(),
		OwnerID:   original.OwnerID,
		RootID:    original.LineageRoot(),
		ParentID:  original.ID,
		Version:   tip.EffectiveVersion() + 1,
		IsLatest:  true,
		Minutes:   doc,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.AppendVersion(ctx, rec, tip.ID, tip.IsLatest, now); err != nil {
		if errors.Is(err, repository.ErrConditionFailed) {
			return domain.MinutesRecord{}, newError(ErrorConflict, "concurrent_edit", err)
		}
		return domain.MinutesRecord{}, newError(ErrorInternal, "store_write_error", err)
	}
	return rec, nil
}

// tipOf returns the highest version in the lineage of rec. The lineage query
// may lag behind recent writes, so the candidate is re-read from the table;
// a tip that is stale in number is caught by the version claim on write.
func (s *VersionService) tipOf(ctx context.Context, rec domain.MinutesRecord) (domain.MinutesRecord, error) {
	lineage, err := s.store.ListLineage(ctx, rec.LineageRoot())
	if err != nil {
		return domain.MinutesRecord{}, newError(ErrorInternal, "store_read_error", err)
	}
	tip := rec
	for _, r := range lineage {
		if r.EffectiveVersion() > tip.EffectiveVersion() {
			tip = r
		}
	}
	if tip.ID == rec.ID {
		return rec, nil
	}
	return s.getRecord(ctx, tip.ID)
}

// ResolveLatest returns the latest record in the lineage containing id. If
// the lineage has no record flagged latest, the record for id is returned.
func (s *VersionService) ResolveLatest(ctx context.Context, id string) (domain.MinutesRecord, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	if rec.IsLatest {
		return rec, nil
	}
	return s.latestOf(ctx, rec)
}

// ListVersions returns every record in the lineage containing id, ascending
// by version.
func (s *VersionService) ListVersions(ctx context.Context, id string) ([]domain.MinutesRecord, error) {
	rec, err := s.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	rootID := rec.LineageRoot()

	root := rec
	var lineage []domain.MinutesRecord
	g, gctx := errgroup.WithContext(ctx)
	if rootID != rec.ID {
		g.Go(func() error {
			r, err := s.store.GetRecord(gctx, rootID)
			if errors.Is(err, repository.ErrNotFound) {
				root = domain.MinutesRecord{}
				return nil
			}
			root = r
			return err
		})
	}
	g.Go(func() error {
		var err error
		lineage, err = s.store.ListLineage(gctx, rootID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, newError(ErrorInternal, "store_read_error", err)
	}

	seen := make(map[string]bool, len(lineage)+1)
	out := make([]domain.MinutesRecord, 0, len(lineage)+1)
	if root.ID != "" {
		seen[root.ID] = true
		out = append(out, root)
	}
	for _, r := range lineage {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
	}
	slices.SortStableFunc(out, func(a, b domain.MinutesRecord) int {
		return cmp.Compare(a.EffectiveVersion(), b.EffectiveVersion())
	})
	return out, nil
}

func (s *VersionService) latestOf(ctx context.Context, rec domain.MinutesRecord) (domain.MinutesRecord, error) {
	latest, err := s.store.FindLatest(ctx, rec.LineageRoot())
	if errors.Is(err, repository.ErrNotFound) {
		return rec, nil
	}
	if err != nil {
		return domain.MinutesRecord{}, newError(ErrorInternal, "store_read_error", err)
	}
	return latest, nil
}

func (s *VersionService) getRecord(ctx context.Context, id string) (domain.MinutesRecord, error) {
	if id == "" {
		return domain.MinutesRecord{}, newError(ErrorInvalidInput, "missing_id", nil)
	}
	rec, err := s.store.GetRecord(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.MinutesRecord{}, newError(ErrorNotFound, "record_not_found", err)
	}
	if err != nil {
		return domain.MinutesRecord{}, newError(ErrorInternal, "store_read_error", err)
	}
	return rec, nil
}

var newUUID = func() string {
	return uuid.NewString()
}
