package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"minutes-agent/internal/domain"
	"minutes-agent/internal/observability"
)

// MinutesService is the entry point used by request handlers.
type MinutesService struct {
	generator *GenerateService
	versions  *VersionService
	metrics   *observability.Metrics
}

func NewMinutesService(g *GenerateService, v *VersionService, m *observability.Metrics) (*MinutesService, error) {
	if g == nil {
		return nil, errors.New("usecase: generate service must not be nil")
	}
	if v == nil {
		return nil, errors.New("usecase: version service must not be nil")
	}
	return &MinutesService{generator: g, versions: v, metrics: m}, nil
}

type GenerateInput struct {
	Text    string
	OwnerID string
}

type GenerateOutput struct {
	Minutes  domain.MeetingMinutes
	RecordID string
	Duration time.Duration
}

type EditInput struct {
	OriginalID string
	// Minutes is the edited document as decoded JSON; it is normalized
	// before it is stored.
	Minutes any
	OwnerID string
}

type EditOutput struct {
	RecordID string
	Version  int
}

// Generate produces minutes from Text and stores them as a new lineage.
func (s *MinutesService) Generate(ctx context.Context, in GenerateInput) (GenerateOutput, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return GenerateOutput{}, newError(ErrorInvalidInput, "missing_owner", nil)
	}
	res, err := s.generator.Generate(ctx, in.Text)
	if err != nil {
		return GenerateOutput{}, err
	}
	rec, err := s.versions.CreateRoot(ctx, res.Minutes, owner)
	if err != nil {
		return GenerateOutput{}, err
	}
	return GenerateOutput{
		Minutes:  rec.Minutes,
		RecordID: rec.ID,
		Duration: res.Duration,
	}, nil
}

func (s *MinutesService) Edit(ctx context.Context, in EditInput) (EditOutput, error) {
	rec, err := s.edit(ctx, in)
	code := "ok"
	if err != nil {
		code = string(CodeOf(err))
	}
	s.metrics.ObserveEdit(code)
	if err != nil {
		return EditOutput{}, err
	}
	return EditOutput{RecordID: rec.ID, Version: rec.Version}, nil
}

func (s *MinutesService) edit(ctx context.Context, in EditInput) (domain.MinutesRecord, error) {
	owner := strings.TrimSpace(in.OwnerID)
	if owner == "" {
		return domain.MinutesRecord{}, newError(ErrorInvalidInput, "missing_owner", nil)
	}
	if in.Minutes == nil {
		return domain.MinutesRecord{}, newError(ErrorInvalidInput, "missing_minutes", nil)
	}
	return s.versions.CreateEdit(ctx, strings.TrimSpace(in.OriginalID), in.Minutes, owner)
}

// GetLatest returns the latest version in the lineage of id. Only the owner
// may read it.
func (s *MinutesService) GetLatest(ctx context.Context, id, owner string) (domain.MinutesRecord, error) {
	rec, err := s.versions.ResolveLatest(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.MinutesRecord{}, err
	}
	if rec.OwnerID != owner {
		return domain.MinutesRecord{}, newError(ErrorForbidden, "not_owner", nil)
	}
	return rec, nil
}

// GetVersions returns the lineage of id ascending by version. Only the owner
// may read it.
func (s *MinutesService) GetVersions(ctx context.Context, id, owner string) ([]domain.MinutesRecord, error) {
	recs, err := s.versions.ListVersions(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		if r.OwnerID != owner {
			return nil, newError(ErrorForbidden, "not_owner", nil)
		}
	}
	return recs, nil
}
