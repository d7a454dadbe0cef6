package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/go-audio/wav"
)

// Format describes a WAV file header.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Duration   time.Duration
}

// Probe reads the header of the WAV file at path.
func Probe(path string) (Format, error) {
	file, err := os.Open(path)
	if err != nil {
		return Format{}, fmt.Errorf("open wav: %w", err)
	}
	defer file.Close()

	dec := wav.NewDecoder(file)
	if !dec.IsValidFile() {
		return Format{}, fmt.Errorf("%s is not a valid wav file", path)
	}
	f := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if err := dec.FwdToPCM(); err != nil {
		return Format{}, fmt.Errorf("locate pcm chunk: %w", err)
	}
	bytesPerSecond := f.SampleRate * f.Channels * f.BitDepth / 8
	if bytesPerSecond > 0 {
		f.Duration = time.Duration(float64(dec.PCMLen()) / float64(bytesPerSecond) * float64(time.Second))
	}
	return f, nil
}
