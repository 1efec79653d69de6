package audio

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/gordonklaus/portaudio"
)

const (
	SampleRate = 16000
	frameSize  = 320 // 20ms
	frameDur   = 20 * time.Millisecond
)

// ErrNoSpeech is returned when a capture ends before any frame rose above
// the silence threshold.
var ErrNoSpeech = errors.New("no speech detected")

type Capture struct {
	// WaitTimeout bounds how long to wait for speech to start; 0 waits
	// until ctx is done.
	WaitTimeout time.Duration
	// PhraseLimit caps a phrase once speech has started.
	PhraseLimit time.Duration
	// Silence ends a phrase after this much quiet.
	Silence time.Duration
	// Threshold is the RMS level that counts as speech.
	Threshold float64
}

func DefaultCapture() Capture {
	return Capture{
		PhraseLimit: 5 * time.Second,
		Silence:     600 * time.Millisecond,
		Threshold:   0.015,
	}
}

type Recorder struct{}

func NewRecorder() *Recorder { return &Recorder{} }

func (r *Recorder) Init() error {
	return portaudio.Initialize()
}

func (r *Recorder) Close() {
	portaudio.Terminate()
}

// Record captures one phrase from the default input device as mono 16 kHz
// float32 samples.
func (r *Recorder) Record(ctx context.Context, c Capture) ([]float32, error) {
	if c.PhraseLimit <= 0 || c.Silence <= 0 || c.Threshold <= 0 {
		d := DefaultCapture()
		if c.PhraseLimit <= 0 {
			c.PhraseLimit = d.PhraseLimit
		}
		if c.Silence <= 0 {
			c.Silence = d.Silence
		}
		if c.Threshold <= 0 {
			c.Threshold = d.Threshold
		}
	}

	buf := make([]float32, frameSize)
	stream, err := portaudio.OpenDefaultStream(1, 0, SampleRate, len(buf), buf)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, err
	}
	defer stream.Stop()

	det := newDetector(c)
	for !det.done() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := stream.Read(); err != nil {
			return nil, err
		}
		det.push(buf)
	}

	if !det.speaking {
		return nil, ErrNoSpeech
	}
	return det.out, nil
}

// detector is a frame-level energy VAD.
type detector struct {
	c Capture

	speaking      bool
	waited        time.Duration
	spoken        time.Duration
	silenceFrames int
	out           []float32
}

func newDetector(c Capture) *detector {
	return &detector{
		c:   c,
		out: make([]float32, 0, SampleRate*3),
	}
}

func (d *detector) push(frame []float32) {
	loud := frameRMS(frame) > d.c.Threshold

	if !d.speaking {
		d.waited += frameDur
		if !loud {
			return
		}
		d.speaking = true
	}

	d.spoken += frameDur
	d.out = append(d.out, frame...)
	if loud {
		d.silenceFrames = 0
	} else {
		d.silenceFrames++
	}
}

func (d *detector) done() bool {
	if !d.speaking {
		return d.c.WaitTimeout > 0 && d.waited >= d.c.WaitTimeout
	}
	if d.spoken >= d.c.PhraseLimit {
		return true
	}
	return time.Duration(d.silenceFrames)*frameDur >= d.c.Silence
}

func frameRMS(f []float32) float64 {
	if len(f) == 0 {
		return 0
	}
	var s float64
	for _, x := range f {
		s += float64(x * x)
	}
	return math.Sqrt(s / float64(len(f)))
}
