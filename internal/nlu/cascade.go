package nlu

import (
	"context"
	log "log/slog"

	"neurahome/internal/action"
)

// Source tells which stage of the cascade settled an utterance.
type Source uint8

const (
	SourceNone Source = iota
	SourceLocal
	SourceRemote
)

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "none"
	}
}

// Cascade tries the local tables first and only spends classifier quota on
// utterances they cannot place. A nil remote, or one without a classifier,
// disables the fallback.
type Cascade struct {
	local  *Local
	remote *Remote
}

func NewCascade(local *Local, remote *Remote) *Cascade {
	if remote != nil && remote.classifier == nil {
		remote = nil
	}
	return &Cascade{local: local, remote: remote}
}

func (c *Cascade) Resolve(ctx context.Context, text string) (action.Action, Source) {
	if a := c.local.Resolve(text); a != action.Unknown {
		log.Debug("Resolved locally", "action", a)
		return a, SourceLocal
	}
	if c.remote == nil {
		return action.Unknown, SourceNone
	}
	if a := c.remote.Resolve(ctx, text); a != action.Unknown {
		return a, SourceRemote
	}
	return action.Unknown, SourceNone
}
