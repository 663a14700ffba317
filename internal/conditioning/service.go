package conditioning

import (
	"context"
	"log/slog"

	"github.com/MikeSquared-Agency/quill/internal/profiles"
	"github.com/MikeSquared-Agency/quill/internal/style"
)

// Resolver finds the profile that applies to a request.
type Resolver interface {
	GetEffectiveProfile(ctx context.Context, userID, subspecialty string) (profiles.Effective, error)
}

// Result is a conditioned prompt and what went into it.
type Result struct {
	Prompt   string          `json:"prompt"`
	Guidance string          `json:"guidance,omitempty"`
	Source   profiles.Source `json:"source"`
	Applied  []style.Feature `json:"applied"`
}

type Service struct {
	profiles Resolver
	opts     Options
	logger   *slog.Logger
}

func NewService(r Resolver, opts Options, logger *slog.Logger) *Service {
	return &Service{profiles: r, opts: opts, logger: logger}
}

// ConditionPrompt resolves the clinician's effective profile, damps it by
// its learning strength and splices the resulting guidance into basePrompt.
// With no usable profile the prompt comes back without a guidance block.
func (s *Service) ConditionPrompt(ctx context.Context, userID, subspecialty, basePrompt string) (Result, error) {
	eff, err := s.profiles.GetEffectiveProfile(ctx, userID, subspecialty)
	if err != nil {
		return Result{}, err
	}

	damped := eff.Profile.Effective()
	cfg := Build(damped, eff.Source, s.opts)
	guidance := Render(damped, cfg)

	res := Result{
		Prompt:   Apply(basePrompt, guidance),
		Guidance: guidance,
		Source:   eff.Source,
		Applied:  []style.Feature{},
	}
	if guidance != "" {
		res.Applied = cfg.Applied()
	}

	s.logger.Debug("prompt conditioned",
		"user_id", userID,
		"subspecialty", subspecialty,
		"source", eff.Source,
		"features", len(res.Applied),
	)
	return res, nil
}
