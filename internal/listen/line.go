package listen

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

type line struct {
	text string
	err  error
}

// LineSource treats each line of r as an already transcribed utterance.
// Lines are read on a background goroutine; if r never returns, that
// goroutine outlives the source.
type LineSource struct {
	lines chan line
}

func NewLineSource(r io.Reader) *LineSource {
	s := &LineSource{lines: make(chan line)}
	go s.scan(r)
	return s
}

func (s *LineSource) scan(r io.Reader) {
	defer close(s.lines)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		s.lines <- line{text: sc.Text()}
	}
	if err := sc.Err(); err != nil {
		s.lines <- line{err: err}
	}
}

func (s *LineSource) Next(ctx context.Context) (Utterance, error) {
	select {
	case <-ctx.Done():
		return Utterance{}, ctx.Err()
	case l, ok := <-s.lines:
		switch {
		case !ok:
			return Utterance{}, ErrEndOfInput
		case l.err != nil:
			return Utterance{}, errors.Join(ErrUnavailable, l.err)
		}
		text := strings.TrimSpace(l.text)
		if text == "" {
			return Utterance{}, ErrNoSpeech
		}
		return Utterance{Text: text, At: time.Now()}, nil
	}
}
