package sandbox

import (
	"context"
	"sync"
	"testing"
	"time"

	"collabcode/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, timeout time.Duration) *Engine {
	t.Helper()
	engine, err := NewEngine(Limits{Timeout: timeout, MemoryBytes: 64 * 1024 * 1024, MaxOutputBytes: 4096})
	require.NoError(t, err)
	return engine
}

func request(code, lang string) models.ExecutionRequest {
	return models.ExecutionRequest{ID: "e1", SessionID: "s1", UserID: "u1", Code: code, Language: lang}
}

func TestExecutePrintsOutput(t *testing.T) {
	engine := newTestEngine(t, 2*time.Second)

	res := engine.Execute(context.Background(), request(`console.log(42)`, "javascript"))
	require.NotNil(t, res.Output)
	assert.Contains(t, *res.Output, "42")
	assert.Nil(t, res.Error)
	assert.False(t, res.Failed())
	assert.Equal(t, "e1", res.ID)
	assert.Equal(t, "s1", res.SessionID)
	assert.Greater(t, res.ExecutionTime, time.Duration(0))
}

func TestExecuteLanguageAliases(t *testing.T) {
	engine := newTestEngine(t, 2*time.Second)

	res := engine.Execute(context.Background(), request(`"ok"`, " JS "))
	require.NotNil(t, res.Output)
	assert.Equal(t, "ok", *res.Output)
}

func TestExecuteUnsupportedLanguageFailsFast(t *testing.T) {
	engine := newTestEngine(t, 2*time.Second)

	start := time.Now()
	res := engine.Execute(context.Background(), request(`print("hi")`, "python"))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	assert.Equal(t, models.ErrorKindUnsupportedLanguage, res.ErrorKind)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "python")
	assert.Nil(t, res.Output)
}

func TestExecuteSyntaxError(t *testing.T) {
	engine := newTestEngine(t, 2*time.Second)

	res := engine.Execute(context.Background(), request(`let = ;`, "javascript"))
	assert.Equal(t, models.ErrorKindSyntax, res.ErrorKind)
	assert.Nil(t, res.Output)
}

func TestExecuteTimeoutDoesNotBlockOthers(t *testing.T) {
	const timeout = 500 * time.Millisecond
	engine := newTestEngine(t, timeout)

	var (
		wg      sync.WaitGroup
		looped  models.ExecutionResult
		loopDur time.Duration
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		start := time.Now()
		looped = engine.Execute(context.Background(), request(`while (true) {}`, "javascript"))
		loopDur = time.Since(start)
	}()

	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	quick := engine.Execute(context.Background(), request(`1 + 1`, "javascript"))
	quickDur := time.Since(start)
	wg.Wait()

	require.NotNil(t, quick.Output)
	assert.Equal(t, "2", *quick.Output)
	assert.Less(t, quickDur, timeout, "trivial execution must not wait for the looping one")

	assert.Equal(t, models.ErrorKindTimeout, looped.ErrorKind)
	require.NotNil(t, looped.Error)
	assert.Contains(t, *looped.Error, "infinite loops")
	assert.Less(t, loopDur, timeout+time.Second)
}

func TestExecuteMemoryExceeded(t *testing.T) {
	engine := newTestEngine(t, 5*time.Second)

	code := `var hoard = []; while (true) { hoard.push(new Array(100000).fill(7)); }`
	res := engine.Execute(context.Background(), request(code, "javascript"))

	assert.Equal(t, models.ErrorKindMemoryExceeded, res.ErrorKind)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "64MB memory limit")
}

func TestExecuteIsolatedState(t *testing.T) {
	engine := newTestEngine(t, 2*time.Second)

	engine.Execute(context.Background(), request(`globalThis.leak = "secret"`, "javascript"))
	res := engine.Execute(context.Background(), request(`typeof leak`, "javascript"))
	require.NotNil(t, res.Output)
	assert.Equal(t, "undefined", *res.Output)
}

func TestExecuteCancelledContext(t *testing.T) {
	engine := newTestEngine(t, 5*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	res := engine.Execute(ctx, request(`while (true) {}`, "javascript"))
	assert.Equal(t, models.ErrorKindInternal, res.ErrorKind)
}
