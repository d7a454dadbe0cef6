package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/loqalabs/recapify/internal/config"
)

func writeWAV(t *testing.T, path string, sampleRate, channels int, seconds float64) {
	t.Helper()
	file, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer file.Close()

	samples := make([]int, int(float64(sampleRate)*seconds)*channels)
	for i := range samples {
		samples[i] = (i % 200) - 100
	}
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           samples,
		SourceBitDepth: 16,
	}
	enc := wav.NewEncoder(file, sampleRate, 16, channels, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("write wav: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeConverter copies fixture to the last argument, like ffmpeg writing its
// output file, and records its argv.
func fakeConverter(t *testing.T, dir, fixture string) (string, string) {
	argsFile := filepath.Join(dir, "args.txt")
	body := fmt.Sprintf("echo \"$@\" > %q\nfor last; do :; done\ncp %q \"$last\"", argsFile, fixture)
	return writeScript(t, dir, "ffmpeg", body), argsFile
}

func newNormalizer(t *testing.T, command string) *Normalizer {
	t.Helper()
	n, err := New(config.AudioConfig{Command: command, SampleRate: 16000, Channels: 1})
	if err != nil {
		t.Fatalf("new normalizer: %v", err)
	}
	return n
}

func TestNormalizeProducesTargetFormat(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	writeWAV(t, fixture, 16000, 1, 1.5)
	script, argsFile := fakeConverter(t, dir, fixture)

	input := filepath.Join(dir, "meeting.mp3")
	if err := os.WriteFile(input, []byte("not really mp3"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := newNormalizer(t, script).Normalize(context.Background(), input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if filepath.Dir(out) != dir || !strings.HasPrefix(filepath.Base(out), "meeting-") || !strings.HasSuffix(out, "_converted.wav") {
		t.Fatalf("unexpected output path %s", out)
	}

	f, err := Probe(out)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if f.SampleRate != 16000 || f.Channels != 1 || f.BitDepth != 16 {
		t.Fatalf("unexpected format %+v", f)
	}
	if f.Duration < 1400*time.Millisecond || f.Duration > 1600*time.Millisecond {
		t.Fatalf("unexpected duration %s", f.Duration)
	}

	args, err := os.ReadFile(argsFile)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"-i " + input, "-ar 16000", "-ac 1", "-c:a pcm_s16le"} {
		if !strings.Contains(string(args), want) {
			t.Fatalf("argv %q missing %q", args, want)
		}
	}
}

func TestNormalizeRejectsWrongFormat(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	writeWAV(t, fixture, 44100, 2, 0.2)
	script, _ := fakeConverter(t, dir, fixture)

	input := filepath.Join(dir, "meeting.m4a")
	if err := os.WriteFile(input, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	n := newNormalizer(t, script)
	_, err := n.Normalize(context.Background(), input)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "sample rate 44100") {
		t.Fatalf("expected sample rate in error, got %v", err)
	}
	if leftovers, _ := filepath.Glob(filepath.Join(dir, "*_converted.wav")); len(leftovers) != 0 {
		t.Fatalf("expected bad output removed, found %v", leftovers)
	}
}

func TestNormalizeConverterFailure(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "ffmpeg", "echo 'Invalid data found when processing input' >&2\nexit 1")
	input := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(input, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := newNormalizer(t, script).Normalize(context.Background(), input)
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if !strings.Contains(err.Error(), "Invalid data found") {
		t.Fatalf("expected stderr tail in error, got %v", err)
	}
}

func TestNormalizeMissingInputAndBinary(t *testing.T) {
	dir := t.TempDir()

	_, err := newNormalizer(t, "ffmpeg").Normalize(context.Background(), filepath.Join(dir, "missing.wav"))
	var convErr *ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError for missing input, got %v", err)
	}

	input := filepath.Join(dir, "a.wav")
	writeWAV(t, input, 16000, 1, 0.1)
	_, err = newNormalizer(t, filepath.Join(dir, "no-such-ffmpeg")).Normalize(context.Background(), input)
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError for missing binary, got %v", err)
	}
}

func TestNormalizeTempDir(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	writeWAV(t, fixture, 16000, 1, 0.2)
	script, _ := fakeConverter(t, dir, fixture)
	input := filepath.Join(dir, "abc.ogg")
	if err := os.WriteFile(input, []byte("ogg"), 0o644); err != nil {
		t.Fatal(err)
	}

	tempDir := filepath.Join(dir, "scratch")
	n, err := New(config.AudioConfig{Command: script, SampleRate: 16000, Channels: 1, TempDir: tempDir})
	if err != nil {
		t.Fatal(err)
	}
	out, err := n.Normalize(context.Background(), input)
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if filepath.Dir(out) != tempDir || !strings.HasPrefix(filepath.Base(out), "abc-") {
		t.Fatalf("unexpected output path %s", out)
	}
}

func TestNormalizeSameStemInputsGetDistinctOutputs(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "fixture.wav")
	writeWAV(t, fixture, 16000, 1, 0.2)
	script, _ := fakeConverter(t, dir, fixture)
	n := newNormalizer(t, script)

	var outputs []string
	for _, name := range []string{"standup.mp3", "standup.m4a"} {
		input := filepath.Join(dir, name)
		if err := os.WriteFile(input, []byte("audio"), 0o644); err != nil {
			t.Fatal(err)
		}
		out, err := n.Normalize(context.Background(), input)
		if err != nil {
			t.Fatalf("normalize %s: %v", name, err)
		}
		outputs = append(outputs, out)
	}
	if outputs[0] == outputs[1] {
		t.Fatalf("inputs with the same stem share output %s", outputs[0])
	}
	for _, out := range outputs {
		if _, err := os.Stat(out); err != nil {
			t.Fatalf("expected %s to exist: %v", out, err)
		}
	}
}

func TestNewRejectsEmptyCommand(t *testing.T) {
	if _, err := New(config.AudioConfig{Command: "  "}); err == nil {
		t.Fatal("expected error for empty command")
	}
}

func TestSupportedExtension(t *testing.T) {
	allowed := []string{".wav", ".mp3", ".m4a"}
	tests := []struct {
		name string
		want bool
	}{
		{"standup.wav", true},
		{"STANDUP.MP3", true},
		{"call.m4a", true},
		{"notes.txt", false},
		{"noext", false},
	}
	for _, tt := range tests {
		if got := SupportedExtension(tt.name, allowed); got != tt.want {
			t.Errorf("SupportedExtension(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}
