package listen

import (
	"context"
	"errors"
	log "log/slog"
	"sync"

	"neurahome/pkg/audioconv"
	"neurahome/pkg/stt"
)

// ReplaySource transcribes pre-recorded audio files in order.
type ReplaySource struct {
	tr  Transcriber
	opt stt.Options

	mu    sync.Mutex
	files []string
}

func NewReplaySource(tr Transcriber, files []string, opt stt.Options) *ReplaySource {
	return &ReplaySource{tr: tr, opt: opt, files: append([]string(nil), files...)}
}

func (r *ReplaySource) Next(ctx context.Context) (Utterance, error) {
	path, ok := r.pop()
	if !ok {
		return Utterance{}, ErrEndOfInput
	}

	log.Debug("Replaying", "file", path)
	pcm, err := audioconv.DecodeFile(ctx, path, audioconv.Options{})
	if err != nil {
		if ctx.Err() != nil {
			return Utterance{}, ctx.Err()
		}
		return Utterance{}, errors.Join(ErrUnintelligible, err)
	}
	if len(pcm) == 0 {
		return Utterance{}, ErrNoSpeech
	}

	return transcribe(ctx, r.tr, pcm, r.opt)
}

func (r *ReplaySource) pop() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.files) == 0 {
		return "", false
	}
	p := r.files[0]
	r.files = r.files[1:]
	return p, true
}
