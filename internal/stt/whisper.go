package stt

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/loqalabs/recapify/internal/config"
	"github.com/mattn/go-shellwords"
)

// WhisperInvoker runs the pre-built whisper.cpp CLI as a child process and
// blocks until it exits.
type WhisperInvoker struct {
	cmd     []string
	cfg     config.WhisperConfig
	catalog *Catalog
}

func NewWhisperInvoker(cfg config.WhisperConfig, catalog *Catalog) (*WhisperInvoker, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse whisper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("whisper command is empty")
	}
	return &WhisperInvoker{cmd: args, cfg: cfg, catalog: catalog}, nil
}

func (w *WhisperInvoker) Transcribe(ctx context.Context, audioPath string, model Model) (Result, error) {
	model, err := w.catalog.Validate(string(model))
	if err != nil {
		return Result{}, err
	}
	modelPath := w.catalog.ModelPath(model)
	if _, err := os.Stat(modelPath); err != nil {
		return Result{}, &TranscriptionError{Model: model, Reason: ReasonMissingModel, Err: fmt.Errorf("model file %s: %w", modelPath, err)}
	}

	base := w.cmd[0]
	if _, err := exec.LookPath(base); err != nil {
		return Result{}, &TranscriptionError{Model: model, Reason: ReasonNotExecutable, Err: err}
	}

	if w.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(w.cfg.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	outputPrefix := strings.TrimSuffix(audioPath, filepath.Ext(audioPath))
	args := append([]string{}, w.cmd[1:]...)
	args = append(args, w.args(modelPath, audioPath, outputPrefix)...)

	command := exec.CommandContext(ctx, base, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	command.WaitDelay = 2 * time.Second

	start := time.Now()
	if err := command.Run(); err != nil {
		return Result{}, w.classify(ctx, model, err, stderr.String())
	}

	text := stdout.String()
	if w.cfg.Output == "file" {
		txtPath := outputPrefix + ".txt"
		data, err := os.ReadFile(txtPath)
		if err != nil {
			return Result{}, &TranscriptionError{Model: model, Reason: ReasonEmptyOutput, Err: fmt.Errorf("read whisper output: %w", err)}
		}
		os.Remove(txtPath)
		text = string(data)
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, &TranscriptionError{Model: model, Reason: ReasonEmptyOutput, Err: errors.New("whisper produced no text")}
	}
	return Result{Text: text, Model: model, Duration: time.Since(start)}, nil
}

// args builds the whisper-cli argument list:
//
//	-m <model> -f <wav> [-l lang] [-t threads] [-nt] [-otxt -of prefix]
func (w *WhisperInvoker) args(modelPath, audioPath, outputPrefix string) []string {
	args := []string{"-m", modelPath, "-f", audioPath}
	if w.cfg.Language != "" {
		args = append(args, "-l", w.cfg.Language)
	}
	if w.cfg.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(w.cfg.Threads))
	}
	if w.cfg.NoTimestamps {
		args = append(args, "-nt")
	}
	if w.cfg.Output == "file" {
		args = append(args, "-otxt", "-of", outputPrefix)
	}
	return args
}

func (w *WhisperInvoker) classify(ctx context.Context, model Model, err error, stderr string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TranscriptionError{Model: model, Reason: ReasonTimeout, Err: fmt.Errorf("whisper exceeded %ds: %w", w.cfg.TimeoutSeconds, ctx.Err())}
	}
	var execErr *exec.Error
	if errors.As(err, &execErr) || errors.Is(err, fs.ErrPermission) {
		return &TranscriptionError{Model: model, Reason: ReasonNotExecutable, Err: err}
	}
	stderr = strings.TrimSpace(stderr)
	if len(stderr) > 512 {
		stderr = "..." + stderr[len(stderr)-512:]
	}
	if stderr != "" {
		return &TranscriptionError{Model: model, Reason: ReasonExit, Err: fmt.Errorf("whisper command failed: %w: %s", err, stderr)}
	}
	return &TranscriptionError{Model: model, Reason: ReasonExit, Err: fmt.Errorf("whisper command failed: %w", err)}
}
