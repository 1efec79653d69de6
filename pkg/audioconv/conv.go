// Package audioconv decodes recorded audio files into the mono 16 kHz
// float32 PCM the transcriber expects.
package audioconv

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
	popus "github.com/pekim/opus"
)

const TargetRate = 16000

var ErrUnsupported = errors.New("unsupported audio format")

type Options struct {
	MaxSamples int // 0 = no limit
}

// clip is decoded audio before downmix and resampling.
type clip struct {
	samples  []float32 // interleaved
	channels int
	rate     int
}

type decodeFunc func(io.ReadSeeker) (clip, error)

// Extensions lists the file suffixes DecodeFile accepts without sniffing.
var Extensions = []string{".wav", ".mp3", ".ogg", ".oga", ".opus"}

func DecodeFile(ctx context.Context, path string, opt Options) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pcm, err := Decode(f, filepath.Ext(path), opt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return pcm, nil
}

// Decode reads r, choosing a decoder by magic bytes and falling back to the
// extension hint (".wav", ".mp3", ...).
func Decode(r io.ReadSeeker, hint string, opt Options) ([]float32, error) {
	decoders, err := pick(r, strings.ToLower(hint))
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, dec := range decoders {
		if _, err := r.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		c, err := dec(r)
		if err == nil {
			return c.mono16k(opt), nil
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

func pick(r io.ReadSeeker, ext string) ([]decodeFunc, error) {
	magic := make([]byte, 4)
	n, _ := io.ReadFull(bufio.NewReader(r), magic)
	magic = magic[:n]

	switch {
	case bytes.HasPrefix(magic, []byte("RIFF")):
		return []decodeFunc{decodeWAV}, nil
	case bytes.HasPrefix(magic, []byte("OggS")):
		return []decodeFunc{decodeVorbis, decodeOpus}, nil
	case bytes.HasPrefix(magic, []byte("ID3")), len(magic) >= 2 && magic[0] == 0xFF && magic[1]&0xE0 == 0xE0:
		return []decodeFunc{decodeMP3}, nil
	}

	switch ext {
	case ".wav":
		return []decodeFunc{decodeWAV}, nil
	case ".mp3":
		return []decodeFunc{decodeMP3}, nil
	case ".ogg", ".oga", ".opus":
		return []decodeFunc{decodeVorbis, decodeOpus}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
}

func decodeWAV(r io.ReadSeeker) (clip, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return clip{}, errors.New("invalid wav")
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return clip{}, fmt.Errorf("wav: %w", err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return clip{}, errors.New("empty wav")
	}

	depth := int(dec.BitDepth)
	if depth == 0 {
		depth = 16
	}
	c := clip{
		samples:  intsToFloat(buf.Data, depth),
		channels: int(dec.NumChans),
		rate:     int(dec.SampleRate),
	}
	if buf.Format != nil {
		c.channels = buf.Format.NumChannels
		c.rate = buf.Format.SampleRate
	}
	return c, nil
}

func decodeMP3(r io.ReadSeeker) (clip, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}

	ints := make([]int16, len(raw)/2)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, ints); err != nil {
		return clip{}, fmt.Errorf("mp3: %w", err)
	}

	// go-mp3 always yields 16-bit stereo
	return clip{samples: int16sToFloat(ints), channels: 2, rate: dec.SampleRate()}, nil
}

func decodeVorbis(r io.ReadSeeker) (clip, error) {
	pcm, format, err := oggvorbis.ReadAll(r)
	if err != nil {
		return clip{}, fmt.Errorf("vorbis: %w", err)
	}
	if format == nil {
		return clip{}, errors.New("vorbis: missing format")
	}
	return clip{samples: pcm, channels: format.Channels, rate: format.SampleRate}, nil
}

func decodeOpus(r io.ReadSeeker) (clip, error) {
	dec, err := popus.NewDecoder(r)
	if err != nil {
		return clip{}, fmt.Errorf("opus: %w", err)
	}
	defer dec.Destroy()

	ch := dec.ChannelCount()
	if ch <= 0 {
		ch = 1
	}

	var out []float32
	buf := make([]int16, 24_000*ch) // 0.5s at 48 kHz
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			out = append(out, int16sToFloat(buf[:n*ch])...)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return clip{}, fmt.Errorf("opus: %w", err)
		}
	}
	return clip{samples: out, channels: ch, rate: 48000}, nil
}

func (c clip) mono16k(opt Options) []float32 {
	x := downmix(c.samples, c.channels)
	rate := c.rate
	if rate <= 0 {
		rate = 44100
	}
	x = resample(x, rate, TargetRate)
	if opt.MaxSamples > 0 && len(x) > opt.MaxSamples {
		x = x[:opt.MaxSamples]
	}
	return x
}

func intsToFloat(data []int, bitDepth int) []float32 {
	out := make([]float32, len(data))
	scale := 1.0 / float64(int64(1)<<(bitDepth-1))
	for i, v := range data {
		out[i] = float32(math.Max(-1, math.Min(1, float64(v)*scale)))
	}
	return out
}

func int16sToFloat(data []int16) []float32 {
	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / 32768
	}
	return out
}

func downmix(in []float32, channels int) []float32 {
	if channels <= 1 {
		return in
	}
	out := make([]float32, len(in)/channels)
	for i := range out {
		var sum float32
		for _, v := range in[i*channels : (i+1)*channels] {
			sum += v
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// resample converts between rates by linear interpolation.
func resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	ratio := float64(from) / float64(to)
	out := make([]float32, int(math.Ceil(float64(len(in))/ratio)))
	last := len(in) - 1
	for i := range out {
		pos := float64(i) * ratio
		j := int(pos)
		if j >= last {
			out[i] = in[last]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
