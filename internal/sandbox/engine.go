package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"collabcode/internal/middleware"
	"collabcode/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultTimeout        = 5 * time.Second
	DefaultMemoryBytes    = 128 * 1024 * 1024
	DefaultMaxOutputBytes = 256 * 1024

	// extra wall time the parent allows before killing a worker that ignored its own timeout
	hardDeadlineSlack = 2 * time.Second
	maxStderrBytes    = 16 * 1024
)

// Limits bound a single execution.
type Limits struct {
	Timeout        time.Duration
	MemoryBytes    int64
	MaxOutputBytes int
}

func DefaultLimits() Limits {
	return Limits{
		Timeout:        DefaultTimeout,
		MemoryBytes:    DefaultMemoryBytes,
		MaxOutputBytes: DefaultMaxOutputBytes,
	}
}

// Engine runs untrusted code. Every execution gets a fresh worker process
// (this binary re-entered via WorkerEnv), so executions share no memory with
// the server or with each other. Engine holds no mutable state and is safe
// for concurrent use.
type Engine struct {
	limits     Limits
	executable string
	log        *logrus.Entry
}

// NewEngine resolves the current executable as the worker binary.
func NewEngine(limits Limits) (*Engine, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sandbox worker executable: %w", err)
	}
	if limits.Timeout <= 0 {
		limits.Timeout = DefaultTimeout
	}
	if limits.MemoryBytes <= 0 {
		limits.MemoryBytes = DefaultMemoryBytes
	}
	if limits.MaxOutputBytes <= 0 {
		limits.MaxOutputBytes = DefaultMaxOutputBytes
	}

	return &Engine{
		limits:     limits,
		executable: exe,
		log:        logrus.WithField("component", "sandbox"),
	}, nil
}

// Limits reports the bounds applied to every execution.
func (e *Engine) Limits() Limits {
	return e.limits
}

// Execute runs req and always returns a result; failures are reported through
// ErrorKind, never as a Go error.
func (e *Engine) Execute(ctx context.Context, req models.ExecutionRequest) models.ExecutionResult {
	start := time.Now()
	result := models.ExecutionResult{
		ID:        req.ID,
		SessionID: req.SessionID,
		UserID:    req.UserID,
	}

	lang := normalizeLanguage(req.Language)
	if lang == "" {
		result.ErrorKind = models.ErrorKindUnsupportedLanguage
		result.Error = models.StringPtr(unsupportedMessage(req.Language))
		result.ExecutionTime = time.Since(start)
		return result
	}

	ctx, span := middleware.StartSpan(ctx, "Sandbox.Execute",
		attribute.String("execution.id", req.ID),
		attribute.String("session.id", req.SessionID),
		attribute.String("execution.language", lang),
		attribute.Int("code.size", len(req.Code)),
	)
	defer span.End()

	r := e.runWorker(ctx, req)
	result.ErrorKind = r.Kind
	result.Output = models.StringPtr(r.Output)
	result.Error = models.StringPtr(r.Error)
	result.ExecutionTime = time.Since(start)

	span.SetAttributes(
		attribute.String("execution.error_kind", string(r.Kind)),
		attribute.Int64("execution.time_ms", result.ExecutionTime.Milliseconds()),
	)
	if result.Failed() {
		middleware.AddSpanEvent(ctx, "execution failed", attribute.String("execution.error_kind", string(r.Kind)))
	}

	e.log.WithFields(logrus.Fields{
		"execution_id": req.ID,
		"session_id":   req.SessionID,
		"user_id":      req.UserID,
		"error_kind":   string(r.Kind),
		"duration_ms":  result.ExecutionTime.Milliseconds(),
	}).Debug("Execution completed")

	return result
}

func (e *Engine) runWorker(ctx context.Context, req models.ExecutionRequest) reply {
	payload, err := e.encodeJob(req.Code)
	if err != nil {
		return e.internal(ctx, req, fmt.Errorf("encode job: %w", err), "")
	}

	hardCtx, cancel := context.WithTimeout(ctx, e.limits.Timeout+hardDeadlineSlack)
	defer cancel()

	var stdout bytes.Buffer
	stderr := newCappedBuffer(maxStderrBytes)

	cmd := e.command(hardCtx, payload, &stdout, stderr)
	runErr := cmd.Run()

	var r reply
	if decodeErr := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &r); decodeErr == nil && (r.Kind != "" || runErr == nil) {
		return r
	}

	switch {
	case ctx.Err() != nil:
		return reply{Kind: models.ErrorKindInternal, Error: "Execution was cancelled."}
	case outOfMemory(stderr.String()):
		return reply{Kind: models.ErrorKindMemoryExceeded, Error: memoryMessage(e.limits.MemoryBytes)}
	case errors.Is(hardCtx.Err(), context.DeadlineExceeded):
		return reply{Kind: models.ErrorKindTimeout, Error: timeoutMessage(e.limits.Timeout)}
	}

	if runErr == nil {
		runErr = errors.New("worker produced no reply")
	}
	return e.internal(ctx, req, runErr, stderr.String())
}

func (e *Engine) encodeJob(code string) ([]byte, error) {
	return json.Marshal(job{
		Code:             code,
		TimeoutMs:        e.limits.Timeout.Milliseconds(),
		MemoryLimitBytes: e.limits.MemoryBytes,
		MaxOutputBytes:   e.limits.MaxOutputBytes,
	})
}

// command prepares a worker process that reads payload from stdin. ctx bounds
// its lifetime.
func (e *Engine) command(ctx context.Context, payload []byte, stdout, stderr io.Writer) *exec.Cmd {
	cmd := exec.CommandContext(ctx, e.executable)
	cmd.Env = []string{WorkerEnv + "=1", "GOMAXPROCS=2"}
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second
	return cmd
}

func (e *Engine) internal(ctx context.Context, req models.ExecutionRequest, err error, stderr string) reply {
	middleware.AddSpanError(ctx, err)
	e.log.WithFields(logrus.Fields{
		"execution_id": req.ID,
		"session_id":   req.SessionID,
		"stderr":       stderr,
	}).WithError(err).Error("Sandbox worker failed")

	return reply{Kind: models.ErrorKindInternal, Error: "Internal server error during code execution."}
}

func outOfMemory(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "out of memory") || strings.Contains(s, "cannot allocate memory")
}
