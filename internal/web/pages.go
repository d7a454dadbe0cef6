package web

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/loqalabs/recapify/internal/export"
	"github.com/loqalabs/recapify/internal/pipeline"
)

type pageData struct {
	Accept              string
	Context             string
	WhisperModels       []string
	WhisperModel        string
	LLMModels           []string
	LLMModel            string
	LLMWarning          string
	HasResult           bool
	Transcript          string
	Summary             string
	TranscriptAvailable bool
	Error               string
	ErrorTitle          string
	Partial             bool
}

var errorTitles = map[string]string{
	pipeline.KindConversion:    "Audio conversion failed",
	pipeline.KindTranscription: "Transcription failed",
	pipeline.KindSummarization: "Summarization failed",
	"request":                  "Invalid request",
}

func (h *Handler) page(c *gin.Context) pageData {
	data := pageData{
		Accept:        strings.Join(h.opts.Uploads.AllowedExtensions, ","),
		WhisperModels: whisperChoices(h.whisper.Selectable()),
		WhisperModel:  h.opts.DefaultWhisperModel,
		LLMModel:      h.opts.DefaultLLMModel,
	}
	models, err := h.llmChoices(c.Request.Context())
	data.LLMModels = models
	if err != nil {
		data.LLMWarning = "Cannot list models from the inference server at " + h.opts.LLMEndpoint + " (" + err.Error() + "). Showing configured models; summarization may fail."
	}
	if _, err := os.Stat(h.pipeline.TranscriptPath()); err == nil {
		data.TranscriptAvailable = true
	}
	return data
}

func (h *Handler) index(c *gin.Context) {
	data := h.page(c)
	if latest := h.Latest(); latest.HasTranscript() {
		data.HasResult = true
		data.Transcript = latest.Transcript
		data.Summary = latest.Summary
	}
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) summarizeForm(c *gin.Context) {
	sub, err := h.readSubmission(c)
	if err != nil {
		h.renderError(c, err, pipeline.Result{})
		return
	}
	res, err := h.run(c, sub)
	if err != nil {
		h.renderError(c, err, res)
		return
	}
	data := h.page(c)
	data.Context = sub.job.Context
	data.WhisperModel = string(res.WhisperModel)
	data.LLMModel = res.LLMModel
	data.HasResult = true
	data.Transcript = res.Transcript
	data.Summary = res.Summary
	c.HTML(http.StatusOK, "index.html", data)
}

func (h *Handler) renderError(c *gin.Context, err error, res pipeline.Result) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("summarize request failed", slog.String("job_id", res.JobID), slogError(err))
	}
	data := h.page(c)
	data.Context = c.PostForm("context")
	data.Error = err.Error()
	data.ErrorTitle = errorTitles[kindFor(err)]
	if data.ErrorTitle == "" {
		data.ErrorTitle = "Something went wrong"
	}
	if res.HasTranscript() {
		data.Partial = true
		data.HasResult = true
		data.Transcript = res.Transcript
	}
	c.HTML(status, "index.html", data)
}

func (h *Handler) createJob(c *gin.Context) {
	sub, err := h.readSubmission(c)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "kind": kindFor(err)})
		return
	}
	res, err := h.run(c, sub)
	body := gin.H{
		"job_id":        res.JobID,
		"filename":      res.Filename,
		"whisper_model": res.WhisperModel,
		"llm_model":     res.LLMModel,
		"transcript":    res.Transcript,
		"summary":       res.Summary,
	}
	if res.HasTranscript() {
		body["transcript_url"] = "/download/transcript"
	}
	if res.Summary != "" {
		body["summary_url"] = "/download/summary"
	}
	if err != nil {
		body["error"] = err.Error()
		body["kind"] = kindFor(err)
		c.JSON(statusFor(err), body)
		return
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) downloadTranscript(c *gin.Context) {
	path := h.pipeline.TranscriptPath()
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no transcript yet"})
		return
	}
	c.FileAttachment(path, "transcript.txt")
}

func (h *Handler) downloadSummary(c *gin.Context) {
	latest := h.Latest()
	if latest.Summary == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no summary yet"})
		return
	}
	c.Header("Content-Disposition", `attachment; filename="summary.txt"`)
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(latest.Summary))
}

func (h *Handler) downloadSummaryDocx(c *gin.Context) {
	latest := h.Latest()
	if latest.Summary == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no summary yet"})
		return
	}
	h.serveDocx(c, "summary.docx", func(path string) error {
		return export.SummaryDocx("Meeting summary: "+latest.Filename, latest.Summary, path)
	})
}

func (h *Handler) downloadTranscriptDocx(c *gin.Context) {
	data, err := os.ReadFile(h.pipeline.TranscriptPath())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no transcript yet"})
		return
	}
	h.serveDocx(c, "transcript.docx", func(path string) error {
		return export.TranscriptDocx("Meeting transcript", string(data), path)
	})
}

func (h *Handler) serveDocx(c *gin.Context, name string, render func(path string) error) {
	dir, err := os.MkdirTemp("", "recap-docx-")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render document failed"})
		return
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, attachmentTimestamp()+"-"+name)
	if err := render(path); err != nil {
		h.logger.Warn("render docx failed", slog.String("name", name), slogError(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "render document failed"})
		return
	}
	c.FileAttachment(path, name)
}
