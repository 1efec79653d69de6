package listen

import (
	"context"
	"errors"

	"neurahome/internal/audio"
	"neurahome/pkg/stt"
)

// Recorder captures one phrase of speech.
type Recorder interface {
	Record(ctx context.Context, c audio.Capture) ([]float32, error)
}

// MicSource listens on the default input device and transcribes each phrase.
type MicSource struct {
	rec     Recorder
	tr      Transcriber
	capture audio.Capture
	opt     stt.Options
}

func NewMicSource(rec Recorder, tr Transcriber, capture audio.Capture, opt stt.Options) *MicSource {
	return &MicSource{rec: rec, tr: tr, capture: capture, opt: opt}
}

func (m *MicSource) Next(ctx context.Context) (Utterance, error) {
	pcm, err := m.rec.Record(ctx, m.capture)
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return Utterance{}, ctx.Err()
	case errors.Is(err, audio.ErrNoSpeech):
		return Utterance{}, ErrNoSpeech
	default:
		return Utterance{}, errors.Join(ErrUnavailable, err)
	}

	return transcribe(ctx, m.tr, pcm, m.opt)
}
