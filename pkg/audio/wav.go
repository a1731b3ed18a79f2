package audio

import (
	"errors"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth  = 16
	wavFormatPCM = 1
)

// WriteWAV encodes mono or interleaved 16-bit samples as a PCM WAV file to w.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate, channels int) error {
	if channels <= 0 {
		channels = 1
	}
	enc := wav.NewEncoder(w, sampleRate, wavBitDepth, channels, wavFormatPCM)

	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("audio: encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("audio: finalize wav: %w", err)
	}
	return nil
}

// ReadWAV decodes a 16-bit PCM WAV stream and returns its samples, sample rate,
// and channel count.
func ReadWAV(r io.ReadSeeker) ([]int16, int, int, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, 0, errors.New("audio: decode wav: not a valid wav file")
	}
	if dec.BitDepth != wavBitDepth {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: unsupported bit depth %d", dec.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, 0, fmt.Errorf("audio: decode wav: %w", err)
	}
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}
	return samples, int(dec.SampleRate), int(dec.NumChans), nil
}

// EncodeWAV returns samples as an in-memory WAV file.
func EncodeWAV(samples []int16, sampleRate, channels int) ([]byte, error) {
	ws := &seekBuffer{}
	if err := WriteWAV(ws, samples, sampleRate, channels); err != nil {
		return nil, err
	}
	return ws.buf, nil
}

// WriteArtifact writes samples to a new WAV file in dir (os.TempDir when
// empty) and returns its path.
func WriteArtifact(dir string, samples []int16, sampleRate int) (string, error) {
	f, err := os.CreateTemp(dir, "voicerelay-clip-*.wav")
	if err != nil {
		return "", fmt.Errorf("audio: create artifact: %w", err)
	}
	if err := WriteWAV(f, samples, sampleRate, 1); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("audio: close artifact: %w", err)
	}
	return f.Name(), nil
}

// SaveWAV writes samples to path, replacing any existing file.
func SaveWAV(path string, samples []int16, sampleRate, channels int) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("audio: create %s: %w", path, err)
	}
	if err := WriteWAV(f, samples, sampleRate, channels); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// seekBuffer is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes on Close.
type seekBuffer struct {
	buf []byte
	pos int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.buf) {
		b.buf = append(b.buf, make([]byte, end-len(b.buf))...)
	}
	n := copy(b.buf[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = int64(b.pos)
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return 0, fmt.Errorf("audio: seek: invalid whence %d", whence)
	}
	next := base + offset
	if next < 0 {
		return 0, errors.New("audio: seek: negative position")
	}
	b.pos = int(next)
	return next, nil
}
