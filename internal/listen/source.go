// Package listen turns captured speech into utterances for the pipeline.
// Every source reports failure through the sentinel errors below so the
// caller can tell noise from outages.
package listen

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"neurahome/pkg/stt"
)

var (
	ErrNoSpeech       = errors.New("no speech detected")
	ErrUnintelligible = errors.New("could not understand audio")
	ErrUnavailable    = errors.New("speech recognition unavailable")
	// ErrEndOfInput means a finite source has nothing left to give.
	ErrEndOfInput = errors.New("end of input")
)

type Utterance struct {
	Text string
	At   time.Time
}

type Source interface {
	Next(ctx context.Context) (Utterance, error)
}

// Transcriber is the subset of stt.Transcriber the sources need.
type Transcriber interface {
	TranscribePCM(ctx context.Context, pcm16k []float32, opt stt.Options) (stt.Result, error)
}

// whisper marks non-speech as "[BLANK_AUDIO]", "(wind blowing)", "*music*"
var annotationRe = regexp.MustCompile(`\[[^\]]*\]|\([^)]*\)|\*[^*]*\*`)

// CleanTranscript strips annotations and whitespace; an empty result means
// nothing intelligible was said.
func CleanTranscript(s string) string {
	s = annotationRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " .,!?-")
}

func transcribe(ctx context.Context, tr Transcriber, pcm []float32, opt stt.Options) (Utterance, error) {
	res, err := tr.TranscribePCM(ctx, pcm, opt)
	if err != nil {
		if ctx.Err() != nil {
			return Utterance{}, ctx.Err()
		}
		return Utterance{}, errors.Join(ErrUnavailable, err)
	}

	text := CleanTranscript(res.Text)
	if text == "" {
		return Utterance{}, ErrUnintelligible
	}
	return Utterance{Text: text, At: time.Now()}, nil
}
