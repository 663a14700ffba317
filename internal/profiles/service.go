// Package profiles serves clinician style profiles through a read-through
// cache and resolves which profile applies to a request.
package profiles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/quill/internal/audit"
	"github.com/MikeSquared-Agency/quill/internal/cache"
	"github.com/MikeSquared-Agency/quill/internal/metrics"
	"github.com/MikeSquared-Agency/quill/internal/store"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Source names where an effective profile came from.
type Source string

const (
	SourceSubspecialty Source = "subspecialty"
	SourceGlobal       Source = "global"
	SourceDefault      Source = "default"
)

// Effective is the resolved profile for a request. Profile is nil when
// Source is SourceDefault, meaning no personalization applies.
type Effective struct {
	Profile *style.Profile `json:"profile"`
	Source  Source         `json:"source"`
}

// ResetResult reports the outcome of a reset. Resetting a missing profile
// is not an error.
type ResetResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Store is the persistence the service depends on. Missing rows are
// reported as store.ErrNotFound.
type Store interface {
	GetProfile(ctx context.Context, userID, subspecialty string) (*style.Profile, error)
	UpsertProfile(ctx context.Context, p *style.Profile) error
	SetLearningStrength(ctx context.Context, userID, subspecialty string, strength float64) (float64, error)
	DeleteProfile(ctx context.Context, userID, subspecialty string) (bool, error)
	GetGlobalProfile(ctx context.Context, userID string) (*style.GlobalProfile, error)
	UpsertGlobalProfile(ctx context.Context, g *style.GlobalProfile) error
}

func ProfileKey(userID, subspecialty string) string {
	return "profile:" + userID + ":" + subspecialty
}

func GlobalKey(userID string) string {
	return "profile:global:" + userID
}

type Service struct {
	store    Store
	profiles cache.Cache[*style.Profile]
	globals  cache.Cache[*style.GlobalProfile]
	audit    *audit.Logger
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(s Store, profiles cache.Cache[*style.Profile], globals cache.Cache[*style.GlobalProfile], a *audit.Logger, logger *slog.Logger) *Service {
	return &Service{
		store:    s,
		profiles: profiles,
		globals:  globals,
		audit:    a,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the stored profile or style.ErrNoProfile. The result is a
// copy the caller may modify.
func (s *Service) Get(ctx context.Context, userID, subspecialty string) (*style.Profile, error) {
	key := ProfileKey(userID, subspecialty)
	if p, ok := s.profiles.Get(ctx, key); ok && p != nil {
		metrics.ProfileCache.WithLabelValues("hit").Inc()
		return p.Clone(), nil
	}
	metrics.ProfileCache.WithLabelValues("miss").Inc()

	p, err := s.store.GetProfile(ctx, userID, subspecialty)
	if errors.Is(err, store.ErrNotFound) {
		return nil, style.ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("load profile: %w", err)
	}
	s.profiles.Set(ctx, key, p.Clone())
	return p, nil
}

// Save persists p and refreshes its cache entry.
func (s *Service) Save(ctx context.Context, p *style.Profile) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now()
	}
	p.UpdatedAt = s.now()
	key := ProfileKey(p.UserID, p.Subspecialty)
	s.profiles.Invalidate(ctx, key)
	if err := s.store.UpsertProfile(ctx, p); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	s.refresh(ctx, p.UserID, p.Subspecialty)
	return nil
}

// GetOrCreate returns the profile for the key, creating an empty one at
// full learning strength when none exists.
func (s *Service) GetOrCreate(ctx context.Context, userID, subspecialty string) (*style.Profile, error) {
	p, err := s.Get(ctx, userID, subspecialty)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, style.ErrNoProfile) {
		return nil, err
	}
	p = style.NewProfile(userID, subspecialty)
	if err := s.Save(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Reset hard-deletes the profile for the key.
func (s *Service) Reset(ctx context.Context, userID, subspecialty string) (ResetResult, error) {
	key := ProfileKey(userID, subspecialty)
	deleted, err := s.store.DeleteProfile(ctx, userID, subspecialty)
	s.profiles.Invalidate(ctx, key)
	if err != nil {
		return ResetResult{}, fmt.Errorf("reset profile: %w", err)
	}
	if !deleted {
		return ResetResult{
			Success: false,
			Message: fmt.Sprintf("no %s style profile exists for this clinician", subspecialty),
		}, nil
	}

	s.audit.Record(ctx, audit.ActionProfileReset, userID, key, map[string]any{
		"subspecialty": subspecialty,
	})
	s.logger.Info("profile reset", "user_id", userID, "subspecialty", subspecialty)
	return ResetResult{
		Success: true,
		Message: fmt.Sprintf("%s style profile reset", subspecialty),
	}, nil
}

// SetLearningStrength stores a new strength clamped to [0,1] and returns
// the updated profile.
func (s *Service) SetLearningStrength(ctx context.Context, userID, subspecialty string, strength float64) (*style.Profile, error) {
	strength = style.Clamp01(strength)
	key := ProfileKey(userID, subspecialty)

	previous, err := s.store.SetLearningStrength(ctx, userID, subspecialty, strength)
	s.profiles.Invalidate(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, style.ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("set learning strength: %w", err)
	}

	s.audit.Record(ctx, audit.ActionLearningStrength, userID, key, map[string]any{
		"subspecialty": subspecialty,
		"previous":     previous,
		"new":          strength,
	})
	return s.Get(ctx, userID, subspecialty)
}

// GetGlobal returns the clinician's user-level profile or style.ErrNoProfile.
func (s *Service) GetGlobal(ctx context.Context, userID string) (*style.GlobalProfile, error) {
	key := GlobalKey(userID)
	if g, ok := s.globals.Get(ctx, key); ok && g != nil {
		metrics.ProfileCache.WithLabelValues("hit").Inc()
		return g.Clone(), nil
	}
	metrics.ProfileCache.WithLabelValues("miss").Inc()

	g, err := s.store.GetGlobalProfile(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, style.ErrNoProfile
	}
	if err != nil {
		return nil, fmt.Errorf("load global profile: %w", err)
	}
	s.globals.Set(ctx, key, g.Clone())
	return g, nil
}

// SaveGlobal persists a user-level profile and refreshes its cache entry.
func (s *Service) SaveGlobal(ctx context.Context, g *style.GlobalProfile) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = s.now()
	}
	g.UpdatedAt = s.now()
	key := GlobalKey(g.UserID)
	s.globals.Invalidate(ctx, key)
	if err := s.store.UpsertGlobalProfile(ctx, g); err != nil {
		return fmt.Errorf("save global profile: %w", err)
	}
	if fresh, err := s.store.GetGlobalProfile(ctx, g.UserID); err == nil {
		s.globals.Set(ctx, key, fresh)
	}
	return nil
}

// GetEffectiveProfile resolves the profile to apply: the subspecialty
// profile when it has analyzed edits, else a usable global profile in the
// same shape, else the default source with no profile. An empty
// subspecialty skips straight to the global profile.
func (s *Service) GetEffectiveProfile(ctx context.Context, userID, subspecialty string) (Effective, error) {
	if subspecialty != "" {
		p, err := s.Get(ctx, userID, subspecialty)
		switch {
		case err == nil && p.TotalEditsAnalyzed > 0:
			return Effective{Profile: p, Source: SourceSubspecialty}, nil
		case err != nil && !errors.Is(err, style.ErrNoProfile):
			return Effective{}, err
		}
	}

	g, err := s.GetGlobal(ctx, userID)
	switch {
	case err == nil && g.Usable():
		return Effective{Profile: g.ToProfile(subspecialty), Source: SourceGlobal}, nil
	case err != nil && !errors.Is(err, style.ErrNoProfile):
		return Effective{}, err
	}
	return Effective{Source: SourceDefault}, nil
}

// refresh re-populates the cache from storage so readers see stored values,
// including columns the database computes.
func (s *Service) refresh(ctx context.Context, userID, subspecialty string) {
	p, err := s.store.GetProfile(ctx, userID, subspecialty)
	if err != nil {
		s.logger.Warn("failed to refresh profile cache", "user_id", userID, "subspecialty", subspecialty, "error", err)
		return
	}
	s.profiles.Set(ctx, ProfileKey(userID, subspecialty), p)
}
