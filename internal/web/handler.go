package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/recapify/internal/audio"
	"github.com/loqalabs/recapify/internal/config"
	"github.com/loqalabs/recapify/internal/eventstore"
	"github.com/loqalabs/recapify/internal/llm"
	"github.com/loqalabs/recapify/internal/pipeline"
	"github.com/loqalabs/recapify/internal/stt"
)

//go:embed templates/*.html
var templates embed.FS

type Pipeline interface {
	Run(ctx context.Context, job pipeline.Job) (pipeline.Result, error)
	TranscriptPath() string
}

type WhisperModels interface {
	Validate(name string) (stt.Model, error)
	Selectable() []stt.Model
}

type LLMModels interface {
	Models(ctx context.Context) ([]string, error)
}

type JobHistory interface {
	ListJobs(ctx context.Context, limit int) ([]eventstore.Job, error)
	ListJobEvents(ctx context.Context, jobID string, limit int) ([]eventstore.Event, error)
}

// Options carries the settings the handler needs besides its collaborators.
type Options struct {
	Uploads             config.UploadsConfig
	DefaultWhisperModel string
	DefaultLLMModel     string
	LLMModels           []string
	LLMEndpoint         string
	Metrics             http.Handler
	Ready               func() bool
}

// Handler wires HTTP routes to the summarization pipeline. It keeps the most
// recent result so the download links always refer to the latest job.
type Handler struct {
	pipeline Pipeline
	whisper  WhisperModels
	llm      LLMModels
	history  JobHistory
	opts     Options
	logger   *slog.Logger
	tmpl     *template.Template

	mu     sync.RWMutex
	latest pipeline.Result
}

func NewHandler(p Pipeline, whisper WhisperModels, llmModels LLMModels, history JobHistory, opts Options, logger *slog.Logger) (*Handler, error) {
	tmpl, err := template.ParseFS(templates, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Handler{
		pipeline: p,
		whisper:  whisper,
		llm:      llmModels,
		history:  history,
		opts:     opts,
		logger:   logger.With(slog.String("component", "web")),
		tmpl:     tmpl,
	}, nil
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(h.tmpl)
	router.GET("/", h.index)
	router.POST("/summarize", h.summarizeForm)
	router.GET("/download/transcript", h.downloadTranscript)
	router.GET("/download/transcript.docx", h.downloadTranscriptDocx)
	router.GET("/download/summary", h.downloadSummary)
	router.GET("/download/summary.docx", h.downloadSummaryDocx)

	api := router.Group("/api")
	api.GET("/models", h.listModels)
	api.POST("/jobs", h.createJob)
	api.GET("/jobs", h.listJobs)
	api.GET("/jobs/:id/events", h.listJobEvents)

	router.GET("/healthz", h.health)
	router.GET("/readyz", h.ready)
	if h.opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(h.opts.Metrics))
	}
}

// Latest returns the most recent result that produced a transcript.
func (h *Handler) Latest() pipeline.Result {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

func (h *Handler) setLatest(res pipeline.Result) {
	h.mu.Lock()
	h.latest = res
	h.mu.Unlock()
}

type submission struct {
	job     pipeline.Job
	cleanup func()
}

// requestError is a validation failure detected before the pipeline runs.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

// readSubmission validates the multipart form and stores the upload in a
// temporary file. Nothing is written when the model is unknown.
func (h *Handler) readSubmission(c *gin.Context) (submission, error) {
	if h.opts.Uploads.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.opts.Uploads.MaxBytes)
	}
	file, err := c.FormFile("audio")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return submission{}, &requestError{status: http.StatusRequestEntityTooLarge, msg: "upload exceeds " + strconv.FormatInt(h.opts.Uploads.MaxBytes, 10) + " bytes"}
		}
		return submission{}, &requestError{status: http.StatusBadRequest, msg: "audio file is required"}
	}
	if !audio.SupportedExtension(file.Filename, h.opts.Uploads.AllowedExtensions) {
		return submission{}, &requestError{status: http.StatusUnsupportedMediaType, msg: "unsupported file type " + filepath.Ext(file.Filename) + "; accepted: " + strings.Join(h.opts.Uploads.AllowedExtensions, ", ")}
	}

	whisperModel := strings.TrimSpace(c.PostForm("whisper_model"))
	if whisperModel == "" {
		whisperModel = h.opts.DefaultWhisperModel
	}
	if _, err := h.whisper.Validate(whisperModel); err != nil {
		return submission{}, err
	}
	llmModel := strings.TrimSpace(c.PostForm("llm_model"))
	if llmModel == "" {
		llmModel = h.opts.DefaultLLMModel
	}

	dir := h.opts.Uploads.Dir
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return submission{}, err
		}
	}
	tmp, err := os.CreateTemp(dir, "upload-*"+strings.ToLower(filepath.Ext(file.Filename)))
	if err != nil {
		return submission{}, err
	}
	tmp.Close()
	cleanup := func() { os.Remove(tmp.Name()) }
	if err := c.SaveUploadedFile(file, tmp.Name()); err != nil {
		cleanup()
		return submission{}, err
	}

	return submission{
		job: pipeline.Job{
			Source:       "web",
			InputPath:    tmp.Name(),
			Filename:     filepath.Base(file.Filename),
			WhisperModel: whisperModel,
			LLMModel:     llmModel,
			Context:      c.PostForm("context"),
		},
		cleanup: cleanup,
	}, nil
}

// run executes the pipeline detached from the client connection: once a
// job has started it runs to completion or to its configured timeouts.
func (h *Handler) run(c *gin.Context, sub submission) (pipeline.Result, error) {
	defer sub.cleanup()
	res, err := h.pipeline.Run(context.WithoutCancel(c.Request.Context()), sub.job)
	if res.HasTranscript() {
		h.setLatest(res)
	}
	return res, err
}

func statusFor(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status
	}
	var sttErr *stt.TranscriptionError
	if errors.As(err, &sttErr) && sttErr.Reason == stt.ReasonUnknownModel {
		return http.StatusBadRequest
	}
	switch kind, _ := pipeline.Classify(err); kind {
	case pipeline.KindConversion:
		return http.StatusUnprocessableEntity
	case pipeline.KindTranscription:
		return http.StatusInternalServerError
	case pipeline.KindSummarization:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindFor(err error) string {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return "request"
	}
	kind, _ := pipeline.Classify(err)
	return kind
}

func (h *Handler) health(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handler) ready(c *gin.Context) {
	if h.opts.Ready == nil || h.opts.Ready() {
		c.String(http.StatusOK, "ready")
		return
	}
	c.String(http.StatusServiceUnavailable, "not ready")
}

// llmChoices lists server models, or the configured ones with a warning when
// the server cannot be asked.
func (h *Handler) llmChoices(ctx context.Context) ([]string, error) {
	if h.llm != nil {
		models, err := h.llm.Models(ctx)
		if err == nil && len(models) > 0 {
			return models, nil
		}
		if err == nil {
			err = errors.New("inference server reports no models")
		}
		return llm.Fallback(h.opts.LLMModels, h.opts.DefaultLLMModel), err
	}
	return llm.Fallback(h.opts.LLMModels, h.opts.DefaultLLMModel), nil
}

func whisperChoices(models []stt.Model) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = string(m)
	}
	return out
}

func (h *Handler) historyLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func (h *Handler) listJobs(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []eventstore.Job{}})
		return
	}
	jobs, err := h.history.ListJobs(c.Request.Context(), h.historyLimit(c))
	if err != nil {
		h.logger.Warn("list jobs failed", slogError(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list jobs failed"})
		return
	}
	if jobs == nil {
		jobs = []eventstore.Job{}
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

func (h *Handler) listJobEvents(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job history disabled"})
		return
	}
	events, err := h.history.ListJobEvents(c.Request.Context(), c.Param("id"), h.historyLimit(c))
	if err != nil {
		h.logger.Warn("list job events failed", slogError(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list job events failed"})
		return
	}
	if len(events) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) listModels(c *gin.Context) {
	llmModels, err := h.llmChoices(c.Request.Context())
	resp := gin.H{
		"whisper":         whisperChoices(h.whisper.Selectable()),
		"whisper_default": h.opts.DefaultWhisperModel,
		"llm":             llmModels,
		"llm_default":     h.opts.DefaultLLMModel,
	}
	if err != nil {
		resp["llm_error"] = err.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func attachmentTimestamp() string {
	return time.Now().UTC().Format("20060102-150405")
}
