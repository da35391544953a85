package sandbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"runtime/metrics"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"collabcode/internal/models"

	"github.com/dop251/goja"
)

const (
	maxCallStackSize = 10000
	heapPollInterval = 5 * time.Millisecond
	truncatedMarker  = "\n[output truncated]"

	// room above the heap ceiling for the runtime, interpreter and thread stacks
	runtimeHeadroomBytes = 128 * 1024 * 1024

	heapLiveMetric = "/gc/heap/live:bytes"
)

// interrupt values passed to vm.Interrupt
var (
	errInterruptTimeout = errors.New("execution timed out")
	errInterruptMemory  = errors.New("memory limit exceeded")
)

// RunWorker is the entry point of a sandbox worker process. It reads one job
// from in, confines the process, evaluates the code and writes the reply to
// out. The return value is the process exit code.
//
// An allocation too large for the process limit kills the worker before a
// reply is written; the engine reads that from stderr.
func RunWorker(in io.Reader, out io.Writer) int {
	var j job
	if err := json.NewDecoder(in).Decode(&j); err != nil {
		writeReply(out, reply{Kind: models.ErrorKindInternal, Error: "sandbox received an invalid job"})
		return 1
	}

	if err := confine(); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox confinement failed: %v\n", err)
		writeReply(out, reply{Kind: models.ErrorKindInternal, Error: "sandbox could not be isolated"})
		return 1
	}

	if err := limitMemory(j.MemoryLimitBytes); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox memory limit failed: %v\n", err)
		writeReply(out, reply{Kind: models.ErrorKindInternal, Error: "sandbox could not be isolated"})
		return 1
	}

	if j.MemoryLimitBytes > 0 {
		// soft target below the hard ceiling so garbage is collected before the watchdog trips
		debug.SetMemoryLimit(j.MemoryLimitBytes * 9 / 10)
	}

	writeReply(out, evaluate(j))
	return 0
}

func writeReply(out io.Writer, r reply) {
	_ = json.NewEncoder(out).Encode(r)
}

// evaluate runs the job in a fresh interpreter. It never panics.
func evaluate(j job) (r reply) {
	output := newCappedBuffer(j.MaxOutputBytes)

	defer func() {
		if p := recover(); p != nil {
			r = reply{Kind: models.ErrorKindInternal, Error: "Internal error while executing code."}
			fmt.Fprintf(os.Stderr, "sandbox panic: %v\n%s", p, debug.Stack())
		}
	}()

	prog, err := goja.Compile("main.js", j.Code, false)
	if err != nil {
		return reply{Kind: models.ErrorKindSyntax, Error: syntaxMessage(err.Error())}
	}

	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallStackSize)
	if err := installConsole(vm, output); err != nil {
		return reply{Kind: models.ErrorKindInternal, Error: "Internal error while preparing the sandbox."}
	}

	timeout := time.Duration(j.TimeoutMs) * time.Millisecond
	timer := time.AfterFunc(timeout, func() { vm.Interrupt(errInterruptTimeout) })
	defer timer.Stop()

	var overLimit atomic.Bool
	stopWatchdog := watchHeap(uint64(j.MemoryLimitBytes), func() {
		overLimit.Store(true)
		vm.Interrupt(errInterruptMemory)
	})
	defer stopWatchdog()

	value, err := vm.RunProgram(prog)
	if err != nil {
		// the timer may fire while a collection triggered by the overrun is still running
		if overLimit.Load() {
			return reply{Kind: models.ErrorKindMemoryExceeded, Error: memoryMessage(j.MemoryLimitBytes)}
		}
		return classifyRunError(err, timeout, j.MemoryLimitBytes)
	}

	if value != nil && !goja.IsUndefined(value) && !goja.IsNull(value) {
		output.WriteString(formatValue(vm, value))
	}
	return reply{Output: output.String()}
}

func classifyRunError(err error, timeout time.Duration, memoryLimit int64) reply {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		switch interrupted.Value() {
		case errInterruptTimeout:
			return reply{Kind: models.ErrorKindTimeout, Error: timeoutMessage(timeout)}
		case errInterruptMemory:
			return reply{Kind: models.ErrorKindMemoryExceeded, Error: memoryMessage(memoryLimit)}
		}
		return reply{Kind: models.ErrorKindInternal, Error: "Execution was interrupted."}
	}

	var exception *goja.Exception
	if errors.As(err, &exception) {
		msg := exception.Error()
		if v := exception.Value(); v != nil {
			msg = v.String()
		}
		return reply{Kind: models.ErrorKindRuntime, Error: runtimeMessage(msg)}
	}

	return reply{Kind: models.ErrorKindRuntime, Error: runtimeMessage(err.Error())}
}

// installConsole routes console.* into the output buffer.
func installConsole(vm *goja.Runtime, output *cappedBuffer) error {
	printer := func(prefix string) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = formatValue(vm, arg)
			}
			output.WriteString(prefix + strings.Join(parts, " ") + "\n")
			return goja.Undefined()
		}
	}

	console := vm.NewObject()
	for name, prefix := range map[string]string{
		"log":   "",
		"info":  "",
		"debug": "",
		"error": "ERROR: ",
		"warn":  "ERROR: ",
	} {
		if err := console.Set(name, printer(prefix)); err != nil {
			return err
		}
	}
	return vm.Set("console", console)
}

// formatValue renders plain objects and arrays as JSON, everything else via String().
func formatValue(vm *goja.Runtime, v goja.Value) string {
	if v == nil {
		return "undefined"
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	switch obj.ClassName() {
	case "Object", "Array":
	default:
		return v.String()
	}

	stringify, ok := goja.AssertFunction(vm.Get("JSON").ToObject(vm).Get("stringify"))
	if !ok {
		return v.String()
	}
	res, err := stringify(goja.Undefined(), v)
	if err != nil || res == nil || goja.IsUndefined(res) {
		return v.String()
	}
	return res.String()
}

// watchHeap calls onExceed once when the heap retained by the last collection
// passes limit. Garbage awaiting the next cycle does not count. A zero limit
// disables it.
func watchHeap(limit uint64, onExceed func()) (stop func()) {
	if limit == 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		samples := []metrics.Sample{{Name: heapLiveMetric}}
		ticker := time.NewTicker(heapPollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				metrics.Read(samples)
				if samples[0].Value.Kind() == metrics.KindUint64 && samples[0].Value.Uint64() > limit {
					onExceed()
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// cappedBuffer keeps at most max bytes of output and remembers whether it dropped any.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) WriteString(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.max > 0 {
		room := b.max - b.buf.Len()
		if room <= 0 {
			b.truncated = b.truncated || len(s) > 0
			return
		}
		if len(s) > room {
			s = s[:room]
			b.truncated = true
		}
	}
	b.buf.WriteString(s)
}

// Write lets the buffer collect process output too.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.WriteString(string(p))
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.truncated {
		return b.buf.String() + truncatedMarker
	}
	return b.buf.String()
}
