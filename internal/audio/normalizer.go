package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loqalabs/recapify/internal/config"
	"github.com/mattn/go-shellwords"
)

// BitDepth is the sample width whisper-cli expects (pcm_s16le).
const BitDepth = 16

// ConversionError reports that an input could not be turned into the
// target waveform.
type ConversionError struct {
	Input string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert %s: %v", filepath.Base(e.Input), e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

// Normalizer transcodes arbitrary audio/container files into mono 16 kHz
// WAV using an external converter (ffmpeg by default).
type Normalizer struct {
	cmd []string
	cfg config.AudioConfig
}

func New(cfg config.AudioConfig) (*Normalizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse audio command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("audio command is empty")
	}
	return &Normalizer{cmd: args, cfg: cfg}, nil
}

// outputFile reserves a unique waveform path for inputPath, in TempDir when
// set and next to the input otherwise. Inputs sharing a stem never collide.
func (n *Normalizer) outputFile(inputPath string) (string, error) {
	dir := n.cfg.TempDir
	if dir == "" {
		dir = filepath.Dir(inputPath)
	}
	stem := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	f, err := os.CreateTemp(dir, stem+"-*_converted.wav")
	if err != nil {
		return "", fmt.Errorf("reserve output file: %w", err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// Normalize runs the converter and verifies the produced header. The caller
// owns the returned file and must remove it.
func (n *Normalizer) Normalize(ctx context.Context, inputPath string) (string, error) {
	if _, err := os.Stat(inputPath); err != nil {
		return "", &ConversionError{Input: inputPath, Err: err}
	}
	if n.cfg.TempDir != "" {
		if err := os.MkdirAll(n.cfg.TempDir, 0o755); err != nil {
			return "", &ConversionError{Input: inputPath, Err: fmt.Errorf("create temp dir: %w", err)}
		}
	}
	output, err := n.outputFile(inputPath)
	if err != nil {
		return "", &ConversionError{Input: inputPath, Err: err}
	}

	base := n.cmd[0]
	args := append([]string{}, n.cmd[1:]...)
	args = append(args,
		"-y",
		"-i", inputPath,
		"-vn",
		"-ar", strconv.Itoa(n.cfg.SampleRate),
		"-ac", strconv.Itoa(n.cfg.Channels),
		"-c:a", "pcm_s16le",
		output,
	)

	command := exec.CommandContext(ctx, base, args...)
	var stderr bytes.Buffer
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		os.Remove(output)
		if tail := stderrTail(stderr.String()); tail != "" {
			return "", &ConversionError{Input: inputPath, Err: fmt.Errorf("%s failed: %w: %s", filepath.Base(base), err, tail)}
		}
		return "", &ConversionError{Input: inputPath, Err: fmt.Errorf("%s failed: %w", filepath.Base(base), err)}
	}

	format, err := Probe(output)
	if err != nil {
		os.Remove(output)
		return "", &ConversionError{Input: inputPath, Err: err}
	}
	if err := n.check(format); err != nil {
		os.Remove(output)
		return "", &ConversionError{Input: inputPath, Err: err}
	}
	return output, nil
}

func (n *Normalizer) check(f Format) error {
	var problems []string
	if f.SampleRate != n.cfg.SampleRate {
		problems = append(problems, fmt.Sprintf("sample rate %d, want %d", f.SampleRate, n.cfg.SampleRate))
	}
	if f.Channels != n.cfg.Channels {
		problems = append(problems, fmt.Sprintf("%d channels, want %d", f.Channels, n.cfg.Channels))
	}
	if f.BitDepth != BitDepth {
		problems = append(problems, fmt.Sprintf("%d-bit samples, want %d", f.BitDepth, BitDepth))
	}
	if len(problems) > 0 {
		return errors.New("unexpected output format: " + strings.Join(problems, ", "))
	}
	return nil
}

// SupportedExtension reports whether name ends in one of the allowed
// extensions (which are expected lowercased with a leading dot).
func SupportedExtension(name string, allowed []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

func stderrTail(s string) string {
	s = strings.TrimSpace(s)
	const max = 512
	if len(s) > max {
		s = "..." + s[len(s)-max:]
	}
	return s
}
