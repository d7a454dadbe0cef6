package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/export"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/pipeline"
	"github.com/loqalabs/recapify/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "expected 'run', 'models', 'validate' or 'version'")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "run":
		err = runCommand(ctx, os.Args[2:], os.Stdout)
	case "models":
		err = modelsCommand(ctx, os.Args[2:], os.Stdout)
	case "validate":
		err = validateCommand(os.Args[2:], os.Stdout)
	case "version":
		fmt.Println(version)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	file := fs.String("file", "", "Audio file to summarize")
	whisperModel := fs.String("whisper", "", "Whisper model (defaults to whisper.default_model)")
	llmModel := fs.String("llm", "", "LLM model (defaults to llm.default_model)")
	extra := fs.String("context", "", "Additional context for the summary")
	outDir := fs.String("out", "", "Directory for summary.md and summary.docx")
	verbose := fs.Bool("v", false, "Log pipeline progress to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *file == "" {
		return errors.New("-file is required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.EventStore.RetentionMode = "ephemeral"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = runtime.NewLogger(config.TelemetryConfig{LogLevel: "debug", LogFormat: "text"}, os.Stderr)
	}

	comps, err := runtime.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer comps.Close()

	model := *whisperModel
	if model == "" {
		model = cfg.Whisper.DefaultModel
	}
	res, runErr := comps.Pipeline.Run(ctx, pipeline.Job{
		Source:       "cli",
		InputPath:    *file,
		WhisperModel: model,
		LLMModel:     *llmModel,
		Context:      *extra,
	})
	if res.HasTranscript() {
		fmt.Fprintf(out, "transcript: %s\n", res.TranscriptPath)
	}
	if runErr != nil {
		kind, reason := pipeline.Classify(runErr)
		return fmt.Errorf("%s failed (%s): %w", kind, reason, runErr)
	}
	fmt.Fprintf(out, "\n%s\n", res.Summary)

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			return err
		}
		base := filepath.Base(*file)
		md := filepath.Join(*outDir, base+".summary.md")
		if err := os.WriteFile(md, []byte(res.Summary+"\n"), 0o644); err != nil {
			return err
		}
		if err := export.SummaryDocx("Meeting summary: "+base, res.Summary, filepath.Join(*outDir, base+".summary.docx")); err != nil {
			return err
		}
		fmt.Fprintf(out, "\nsummary written to %s\n", md)
	}
	return nil
}

func modelsCommand(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("models", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	cfg.EventStore.RetentionMode = "ephemeral"
	comps, err := runtime.Build(ctx, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	if err != nil {
		return err
	}
	defer comps.Close()

	fmt.Fprintln(out, "whisper:")
	installed, err := comps.Whisper.Available()
	if err != nil {
		fmt.Fprintf(out, "  (cannot read %s: %v)\n", cfg.Whisper.ModelDir, err)
	}
	for _, m := range comps.Whisper.Selectable() {
		marker := ""
		if string(m) == cfg.Whisper.DefaultModel {
			marker = " (default)"
		}
		if !contains(installed, string(m)) {
			marker += " [not installed]"
		}
		fmt.Fprintf(out, "  %s%s\n", m, marker)
	}

	fmt.Fprintln(out, "llm:")
	models, err := comps.LLMModels.Models(ctx)
	if err != nil {
		fmt.Fprintf(out, "  (server unavailable: %v)\n", err)
		models = llm.Fallback(cfg.LLM.Models, cfg.LLM.DefaultModel)
	}
	for _, m := range models {
		marker := ""
		if m == cfg.LLM.DefaultModel {
			marker = " (default)"
		}
		fmt.Fprintf(out, "  %s%s\n", m, marker)
	}
	return nil
}

func validateCommand(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := config.Load(*configPath); err != nil {
		return err
	}
	fmt.Fprintln(out, "config valid")
	return nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
