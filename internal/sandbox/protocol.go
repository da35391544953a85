package sandbox

import (
	"os"
	"strings"

	"collabcode/internal/models"
)

// WorkerEnv marks a process started by the engine as a sandbox worker.
const WorkerEnv = "COLLABCODE_SANDBOX_WORKER"

// IsWorkerProcess reports whether this process was started as a sandbox
// worker. Binaries that embed the engine must check it before anything else
// and hand control to RunWorker.
func IsWorkerProcess() bool {
	return os.Getenv(WorkerEnv) == "1"
}

// job is written by the engine to the worker's stdin.
type job struct {
	Code             string `json:"code"`
	TimeoutMs        int64  `json:"timeout_ms"`
	MemoryLimitBytes int64  `json:"memory_limit_bytes"`
	MaxOutputBytes   int    `json:"max_output_bytes"`
}

// reply is written by the worker to its stdout.
type reply struct {
	Output string           `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   models.ErrorKind `json:"kind,omitempty"`
}

var languageAliases = map[string]string{
	"javascript": "javascript",
	"js":         "javascript",
	"node":       "javascript",
}

// SupportedLanguages lists the canonical language tags the engine runs.
func SupportedLanguages() []string {
	return []string{"javascript"}
}

// normalizeLanguage maps a declared tag to its canonical form, or "" if unsupported.
func normalizeLanguage(lang string) string {
	return languageAliases[strings.ToLower(strings.TrimSpace(lang))]
}
