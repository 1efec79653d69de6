package notify

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
)

const (
	toneRate = beep.SampleRate(44100)
	toneFreq = 880
	toneLen  = 150 * time.Millisecond
)

// Cue is a short sound played before the daemon starts listening.
type Cue struct {
	buf *beep.Buffer
}

var speakerInit struct {
	sync.Once
	err error
}

// LoadCue decodes an mp3 or wav file into memory. An empty path gives a
// plain tone.
func LoadCue(path string) (*Cue, error) {
	if path == "" {
		return &Cue{buf: bufferTone(toneRate, toneFreq, toneLen)}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	var (
		streamer beep.StreamSeekCloser
		format   beep.Format
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		streamer, format, err = mp3.Decode(f)
	case ".wav":
		streamer, format, err = wav.Decode(f)
	default:
		f.Close()
		return nil, fmt.Errorf("cue %s: unsupported format", path)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("decode cue %s: %w", path, err)
	}
	defer streamer.Close()

	buf := beep.NewBuffer(format)
	buf.Append(streamer)
	if err := streamer.Err(); err != nil {
		return nil, fmt.Errorf("decode cue %s: %w", path, err)
	}
	return &Cue{buf: buf}, nil
}

func (c *Cue) Len() time.Duration {
	return c.buf.Format().SampleRate.D(c.buf.Len())
}

// Play blocks until the cue has been played.
func (c *Cue) Play() error {
	format := c.buf.Format()
	speakerInit.Do(func() {
		speakerInit.err = speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10))
	})
	if speakerInit.err != nil {
		return fmt.Errorf("init speaker: %w", speakerInit.err)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(c.buf.Streamer(0, c.buf.Len()), beep.Callback(func() {
		close(done)
	})))
	<-done
	return nil
}

func bufferTone(rate beep.SampleRate, freq float64, d time.Duration) *beep.Buffer {
	total := rate.N(d)
	step := 2 * math.Pi * freq / float64(rate)
	pos := 0
	tone := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		if pos >= total {
			return 0, false
		}
		n := 0
		for ; n < len(samples) && pos < total; n++ {
			v := 0.3 * math.Sin(step*float64(pos))
			samples[n][0], samples[n][1] = v, v
			pos++
		}
		return n, true
	})

	buf := beep.NewBuffer(beep.Format{SampleRate: rate, NumChannels: 2, Precision: 2})
	buf.Append(tone)
	return buf
}
