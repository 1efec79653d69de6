package nlu

import (
	"context"
	"errors"
	log "log/slog"
	"strings"
	"time"

	"neurahome/internal/action"
	"neurahome/internal/quota"
)

const DefaultCooldown = 30 * time.Second

// Reserver hands out permission for one classifier call.
type Reserver interface {
	Reserve(ctx context.Context) error
}

type RemoteConfig struct {
	Classifier Classifier
	Limiter    Reserver
	Cooldown   time.Duration
	Clock      quota.Clock
}

// Remote resolves text through a Classifier. It never fails: every error
// path yields action.Unknown and the utterance is dropped.
type Remote struct {
	classifier Classifier
	limiter    Reserver
	cooldown   time.Duration
	clock      quota.Clock
}

func NewRemote(cfg RemoteConfig) *Remote {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Clock == nil {
		cfg.Clock = quota.SystemClock{}
	}
	return &Remote{
		classifier: cfg.Classifier,
		limiter:    cfg.Limiter,
		cooldown:   cfg.Cooldown,
		clock:      cfg.Clock,
	}
}

func (r *Remote) Resolve(ctx context.Context, text string) action.Action {
	if r.classifier == nil {
		return action.Unknown
	}
	if r.limiter != nil {
		if err := r.limiter.Reserve(ctx); err != nil {
			log.Debug("Classifier reservation abandoned", "err", err)
			return action.Unknown
		}
	}

	resp, err := r.classifier.Classify(ctx, Prompt(text))
	switch {
	case err == nil:
	case errors.Is(err, ErrQuotaExhausted):
		log.Warn("Classifier quota exhausted, cooling down", "cooldown", r.cooldown, "err", err)
		if err := quota.Sleep(ctx, r.clock, r.cooldown); err != nil {
			log.Debug("Cooldown interrupted", "err", err)
		}
		return action.Unknown
	default:
		log.Error("Failed to classify", "err", err)
		return action.Unknown
	}

	a := Extract(resp)
	log.Debug("Classifier replied", "response", resp, "action", a)
	return a
}

// Extract returns the first vocabulary action whose wire string appears in
// the normalized response.
func Extract(resp string) action.Action {
	s := strings.ToUpper(strings.TrimSpace(resp))
	if s == "" {
		return action.Unknown
	}
	for _, a := range action.All {
		if strings.Contains(s, a.Wire()) {
			return a
		}
	}
	return action.Unknown
}
