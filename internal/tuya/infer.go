package tuya

import (
	"context"
	"errors"
	"iter"
)

// Profile is a device configuration that a catalog can match against state.
type Profile interface {
	// ConfigType is the identifier persisted as the device type.
	ConfigType() string

	// Name is the human-readable profile name.
	Name() string
}

// Catalog enumerates and scores device profiles.
type Catalog interface {
	// MatchCandidates yields profiles plausible for the observed data points.
	MatchCandidates(state map[string]any) iter.Seq[Profile]

	// MatchQuality scores how well a profile fits the state.
	MatchQuality(p Profile, state map[string]any) float64
}

// InferType picks the best-matching profile type for the device. When the
// cache holds nothing but the refresh timestamp it refreshes once first;
// a failed refresh is logged and matching proceeds on what is cached.
//
// The highest score wins; on ties the first candidate enumerated is kept.
// Returns ErrTypeNotInferred when no candidate scores above zero.
func (s *Session) InferType(ctx context.Context, catalog Catalog) (string, error) {
	state := s.State()
	if len(state) <= 1 {
		if err := s.Refresh(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", err
			}
			s.logger.Warn("refresh before type detection failed", "device", s.UniqueID(), "error", err)
		}
		state = s.State()
	}

	var best Profile
	bestQuality := 0.0
	for p := range catalog.MatchCandidates(state) {
		quality := catalog.MatchQuality(p, state)
		s.logger.Info("considering device profile",
			"device", s.UniqueID(),
			"profile", p.Name(),
			"quality", quality)
		if quality > bestQuality {
			bestQuality = quality
			best = p
		}
	}

	if best == nil {
		s.logger.Warn("device type detection failed", "device", s.UniqueID(), "dps", state)
		return "", ErrTypeNotInferred
	}
	return best.ConfigType(), nil
}
