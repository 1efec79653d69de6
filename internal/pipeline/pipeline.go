// Package pipeline runs the listen, resolve, dispatch loop.
//
// The loop is strictly sequential: one utterance is resolved and dispatched
// before the next one is requested, so commands reach the device in the
// order they were spoken. Nothing short of cancelling the context stops it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"sync"
	"sync/atomic"
	"time"

	"neurahome/internal/action"
	"neurahome/internal/listen"
	"neurahome/internal/nlu"
	"neurahome/internal/quota"
	"neurahome/pkg/protocol"
)

var ErrAlreadyRunning = errors.New("pipeline already running")

type State uint32

const (
	Idle State = iota
	Listening
	Resolving
	Dispatching
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Resolving:
		return "resolving"
	case Dispatching:
		return "dispatching"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

type Resolver interface {
	Resolve(ctx context.Context, text string) (action.Action, nlu.Source)
}

type Dispatcher interface {
	Send(cmd protocol.Command) error
	Close() error
}

// Cue is played right before the pipeline starts waiting for speech.
type Cue interface {
	Play() error
}

// Announcer tells the user an utterance was not understood.
type Announcer interface {
	Say(text string) error
}

const (
	DefaultRetryDelay = time.Second
	unknownPhrase     = "Sorry, I did not understand"
)

type Config struct {
	Source     listen.Source
	Resolver   Resolver
	Dispatcher Dispatcher

	// Optional.
	Cue       Cue
	Announcer Announcer

	// RetryDelay is the pause after the speech source reports an outage.
	RetryDelay time.Duration
	Clock      quota.Clock
}

type Pipeline struct {
	cfg Config

	state   atomic.Uint32
	running atomic.Bool
	stats   Stats

	closeOnce sync.Once
	closeErr  error
}

func New(cfg Config) *Pipeline {
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = quota.SystemClock{}
	}
	return &Pipeline{cfg: cfg}
}

type Status struct {
	State State
	Stats StatsSnapshot
}

func (p *Pipeline) Status() Status {
	return Status{State: p.State(), Stats: p.stats.Snapshot()}
}

func (p *Pipeline) State() State {
	return State(p.state.Load())
}

func (p *Pipeline) setState(s State) {
	p.state.Store(uint32(s))
}

// Run loops until ctx is cancelled or a finite source runs dry, then closes
// the dispatcher. It returns only the dispatcher's close error. A pipeline
// runs once.
func (p *Pipeline) Run(ctx context.Context) (err error) {
	if !p.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer func() { err = p.stop() }()

	log.Info("Pipeline started")

	for ctx.Err() == nil {
		p.setState(Listening)
		p.cue()

		u, err := p.cfg.Source.Next(ctx)
		if err != nil {
			if !p.recover(ctx, err) {
				return nil
			}
			continue
		}

		p.stats.heard.Add(1)
		log.Info("Heard", "text", u.Text)

		p.setState(Resolving)
		a, src := p.cfg.Resolver.Resolve(ctx, u.Text)
		switch src {
		case nlu.SourceLocal:
			p.stats.local.Add(1)
		case nlu.SourceRemote:
			p.stats.remote.Add(1)
		}

		if a == action.Unknown {
			p.stats.unknown.Add(1)
			log.Info("Dropped unresolved utterance", "text", u.Text)
			p.announce()
			continue
		}

		p.setState(Dispatching)
		if err := p.cfg.Dispatcher.Send(a); err != nil {
			p.stats.sendFailures.Add(1)
			log.Error("Failed to dispatch", "action", a, "err", err)
			continue
		}
		p.stats.dispatched.Add(1)
		log.Info("Dispatched", "action", a, "via", src)
	}
	return nil
}

// recover reports whether the loop should go on after a source error.
func (p *Pipeline) recover(ctx context.Context, err error) bool {
	switch {
	case ctx.Err() != nil:
		return false
	case errors.Is(err, listen.ErrEndOfInput):
		log.Info("Input exhausted")
		return false
	case errors.Is(err, listen.ErrNoSpeech), errors.Is(err, listen.ErrUnintelligible):
		p.stats.noise.Add(1)
		log.Debug("Nothing to resolve", "err", err)
		return true
	default:
		p.stats.outages.Add(1)
		log.Warn("Speech source unavailable", "err", err, "retry", p.cfg.RetryDelay)
		return quota.Sleep(ctx, p.cfg.Clock, p.cfg.RetryDelay) == nil
	}
}

func (p *Pipeline) cue() {
	if p.cfg.Cue == nil {
		return
	}
	if err := p.cfg.Cue.Play(); err != nil {
		log.Debug("Failed to play cue", "err", err)
	}
}

func (p *Pipeline) announce() {
	if p.cfg.Announcer == nil {
		return
	}
	if err := p.cfg.Announcer.Say(unknownPhrase); err != nil {
		log.Debug("Failed to announce", "err", err)
	}
}

func (p *Pipeline) stop() error {
	p.setState(Stopped)
	p.closeOnce.Do(func() {
		p.closeErr = p.cfg.Dispatcher.Close()
		if p.closeErr != nil {
			log.Warn("Failed to close dispatcher", "err", p.closeErr)
		}
	})
	log.Info("Pipeline stopped")
	return p.closeErr
}
