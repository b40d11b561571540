// Package ocr defines the text extraction engine abstraction and the
// service that wraps an engine with format checks, timeouts, and result
// normalization.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/insurecove/document-service/internal/logger"
	"github.com/insurecove/document-service/pkg/models"
)

// DefaultEngine is the extraction backend used when none is configured.
const DefaultEngine = "mistral"

// DefaultTimeout bounds a single extraction attempt.
const DefaultTimeout = 300 * time.Second

// MinConfidence is the threshold below which results are flagged as low
// quality. Low confidence does not fail the job; the score is stored so
// consumers can decide.
const MinConfidence = 0.5

// supportedFormats lists the MIME types the OCR pipeline accepts.
var supportedFormats = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/tiff":      {},
}

// Request carries one document body to the engine.
type Request struct {
	Content  []byte
	MIMEType string
	Language string
	Options  models.JSONMap
}

// Result is the engine output after service-side normalization.
type Result struct {
	Text           string
	Confidence     float64
	Language       string
	PageCount      int
	WordCount      int
	CharacterCount int
	Engine         string

	// Raw preserves engine-specific payload fields for the job record.
	Raw models.JSONMap
}

// Engine extracts text from a document body. Implementations wrap remote
// OCR APIs and must honor context cancellation.
type Engine interface {
	Name() string
	Extract(ctx context.Context, req Request) (*Result, error)
}

// EngineFunc adapts a function to the Engine interface, mainly for tests.
type EngineFunc struct {
	EngineName string
	Fn         func(ctx context.Context, req Request) (*Result, error)
}

func (e EngineFunc) Name() string {
	if e.EngineName == "" {
		return "func"
	}
	return e.EngineName
}

func (e EngineFunc) Extract(ctx context.Context, req Request) (*Result, error) {
	return e.Fn(ctx, req)
}

// EngineError is a failure reported by the engine, classified for retry.
type EngineError struct {
	Code      string
	Message   string
	Transient bool
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("ocr engine error %s: %s", e.Code, e.Message)
}

// ErrUnsupportedFormat reports a MIME type the pipeline cannot process.
// Always permanent.
var ErrUnsupportedFormat = errors.New("unsupported format for text extraction")

// IsTransient reports whether an extraction failure is worth retrying.
// Engine-declared transience, timeouts, and context deadlines qualify;
// unsupported formats and engine rejections do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Transient
	}
	return false
}

// Config contains OCR service configuration.
type Config struct {
	// Engine names the extraction backend.
	Engine string `mapstructure:"engine" yaml:"engine"`

	// Timeout bounds a single extraction attempt.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
}

// Service wraps an Engine with format validation, attempt timeouts, and
// result normalization.
type Service struct {
	engine  Engine
	timeout time.Duration
}

// NewService creates an OCR service around the given engine.
func NewService(cfg *Config, engine Engine) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.ApplyDefaults()
	return &Service{engine: engine, timeout: cfg.Timeout}
}

// Process runs one extraction attempt. The returned error is classified by
// IsTransient for the caller's retry decision.
func (s *Service) Process(ctx context.Context, req Request) (*Result, error) {
	if _, ok := supportedFormats[req.MIMEType]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.MIMEType)
	}
	if len(req.Content) == 0 {
		return nil, &EngineError{Code: "empty_input", Message: "document body is empty"}
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.engine.Extract(ctx, req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("extraction timed out after %s: %w", s.timeout, context.DeadlineExceeded)
		}
		return nil, err
	}

	normalized := s.normalizeResult(result)
	logger.DebugCtx(ctx, "extraction finished",
		logger.KeyEngine, normalized.Engine,
		logger.KeyDurationMs, time.Since(start).Milliseconds(),
		"confidence", normalized.Confidence,
		"characters", normalized.CharacterCount)

	if normalized.Confidence < MinConfidence {
		logger.WarnCtx(ctx, "low extraction confidence",
			"confidence", normalized.Confidence, "threshold", MinConfidence)
	}
	return normalized, nil
}

// normalizeResult cleans the engine output: text normalization, confidence
// clamping, and derived counts when the engine left them zero.
func (s *Service) normalizeResult(r *Result) *Result {
	out := *r
	out.Text = NormalizeText(r.Text)
	if out.Confidence < 0 || out.Confidence > 1 {
		out.Confidence = 0
	}
	if out.Engine == "" {
		out.Engine = s.engine.Name()
	}
	if out.CharacterCount == 0 {
		out.CharacterCount = len(out.Text)
	}
	if out.WordCount == 0 && out.Text != "" {
		out.WordCount = len(strings.Fields(out.Text))
	}
	if out.PageCount == 0 && out.Text != "" {
		out.PageCount = 1
	}
	return &out
}

// NormalizeText cleans extracted text: CRLF to LF, control characters
// stripped except newline and tab, runs of blanks collapsed, and the
// result trimmed.
func NormalizeText(text string) string {
	if text == "" {
		return ""
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	var b strings.Builder
	b.Grow(len(text))
	var lastBlank bool
	for _, r := range text {
		if r < 0x20 && r != '\n' && r != '\t' {
			continue
		}
		if r == ' ' || r == '\t' {
			if lastBlank {
				continue
			}
			lastBlank = true
			b.WriteRune(' ')
			continue
		}
		lastBlank = false
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// Supported reports whether the pipeline accepts a MIME type.
func Supported(mimeType string) bool {
	_, ok := supportedFormats[mimeType]
	return ok
}
