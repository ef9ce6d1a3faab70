package eventloop

import (
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingRuntime is a core.JSRuntime that records evaluated source
// instead of running it.
type recordingRuntime struct {
	evals      []string
	microtasks int
	onEval     func(js string)
}

func (r *recordingRuntime) Eval(js string) error {
	r.evals = append(r.evals, js)
	if r.onEval != nil {
		r.onEval(js)
	}
	return nil
}
func (r *recordingRuntime) RunScript(_, source string) error     { return r.Eval(source) }
func (r *recordingRuntime) EvalString(js string) (string, error) { return "", r.Eval(js) }
func (r *recordingRuntime) EvalBool(js string) (bool, error)     { return false, r.Eval(js) }
func (r *recordingRuntime) EvalInt(js string) (int, error)       { return 0, r.Eval(js) }
func (r *recordingRuntime) RegisterFunc(string, any) error       { return nil }
func (r *recordingRuntime) SetGlobal(string, any) error          { return nil }
func (r *recordingRuntime) RunMicrotasks()                       { r.microtasks++ }
func (r *recordingRuntime) Interrupt()                           {}
func (r *recordingRuntime) Close() error                         { return nil }

func (r *recordingRuntime) count(substr string) int {
	n := 0
	for _, js := range r.evals {
		if strings.Contains(js, substr) {
			n++
		}
	}
	return n
}

func TestEventLoop_New(t *testing.T) {
	el := New()
	require.NotNil(t, el)
	assert.NotNil(t, el.timers)
	assert.Zero(t, el.nextID)
	assert.False(t, el.HasPending())
}

func TestEventLoop_IDsIncrement(t *testing.T) {
	el := New()
	assert.Equal(t, 1, el.RegisterTimer(100*time.Millisecond, false))
	assert.Equal(t, 2, el.RegisterTimer(200*time.Millisecond, false))
	assert.Equal(t, 3, el.RegisterTimer(0, true))
	assert.True(t, el.HasPending())
}

func TestEventLoop_IntervalMinimum(t *testing.T) {
	el := New()
	id := el.RegisterTimer(time.Millisecond, true)

	el.mu.Lock()
	entry := el.timers[id]
	el.mu.Unlock()
	require.NotNil(t, entry)
	assert.Equal(t, 10*time.Millisecond, entry.interval)
}

func TestEventLoop_ClearTimer(t *testing.T) {
	el := New()
	id := el.RegisterTimer(time.Hour, false)
	el.ClearTimer(id)
	assert.False(t, el.HasPending())

	// Clearing an unknown id is a no-op.
	el.ClearTimer(999)
}

func TestEventLoop_Reset(t *testing.T) {
	el := New()
	el.RegisterTimer(time.Hour, false)
	el.AddPendingFetch(&PendingFetch{ResultCh: make(chan FetchResult), FetchID: "f1"})
	require.True(t, el.HasPending())

	el.Reset()
	assert.False(t, el.HasPending())
	assert.Equal(t, 1, el.RegisterTimer(0, false), "ids restart after reset")
}

func TestEventLoop_Drain_Empty(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.Drain(rt, time.Time{})
	assert.Empty(t, rt.evals)
}

func TestEventLoop_Drain_FiresInDeadlineOrder(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	late := el.RegisterTimer(20*time.Millisecond, false)
	early := el.RegisterTimer(5*time.Millisecond, false)

	el.Drain(rt, time.Time{})

	require.Len(t, rt.evals, 2)
	assert.Contains(t, rt.evals[0], "__timerCallbacks["+strconv.Itoa(early)+"]")
	assert.Contains(t, rt.evals[1], "__timerCallbacks["+strconv.Itoa(late)+"]")
	assert.Equal(t, 2, rt.microtasks)
	assert.False(t, el.HasPending())
}

func TestEventLoop_Drain_DeadlineStopsLongTimer(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(time.Hour, false)

	start := time.Now()
	el.Drain(rt, time.Now().Add(20*time.Millisecond))

	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, rt.evals)
	assert.True(t, el.HasPending())
}

func TestEventLoop_Drain_IntervalRepeatsUntilCleared(t *testing.T) {
	el := New()
	var id int
	fired := 0
	rt := &recordingRuntime{}
	rt.onEval = func(js string) {
		if strings.Contains(js, "__timerCallbacks") {
			fired++
			if fired == 3 {
				el.ClearTimer(id)
			}
		}
	}
	id = el.RegisterTimer(10*time.Millisecond, true)

	el.Drain(rt, time.Now().Add(5*time.Second))
	assert.Equal(t, 3, fired)
	assert.False(t, el.HasPending())
}

func TestEventLoop_Drain_ResolvesFetch(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	ch := make(chan FetchResult, 1)
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "f1"})

	go func() {
		time.Sleep(5 * time.Millisecond)
		ch <- FetchResult{Status: 200, StatusText: "OK", HeadersJSON: `{}`, Body: "hi \"there\"", FinalURL: "http://x"}
	}()
	el.Drain(rt, time.Time{})

	require.Equal(t, 1, rt.count("__fetchResolve"))
	assert.Contains(t, rt.evals[0], `"f1", 200, "OK"`)
	assert.Contains(t, rt.evals[0], `"hi \"there\""`)
	assert.False(t, el.HasPending())
}

func TestEventLoop_Drain_RejectsFetch(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	ch := make(chan FetchResult, 1)
	ch <- FetchResult{Err: errors.New("connection refused")}
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "f2"})

	el.Drain(rt, time.Time{})

	require.Equal(t, 1, rt.count("__fetchReject"))
	assert.Contains(t, rt.evals[0], `"connection refused"`)
}

func TestJSString_EscapesLineSeparators(t *testing.T) {
	assert.Equal(t, `"a\u2028b"`, jsString("a\u2028b"))
}

func TestEventLoop_DrainUntil_DoneWakesTimerWait(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(time.Hour, false)

	done := make(chan struct{})
	time.AfterFunc(20*time.Millisecond, func() { close(done) })

	start := time.Now()
	el.DrainUntil(rt, time.Time{}, done)

	assert.Less(t, time.Since(start), time.Second)
	assert.Empty(t, rt.evals)
	assert.True(t, el.HasPending())
}

func TestEventLoop_DrainUntil_DoneStopsLiveInterval(t *testing.T) {
	el := New()
	fired := 0
	rt := &recordingRuntime{onEval: func(js string) {
		if strings.Contains(js, "__timerCallbacks") {
			fired++
		}
	}}
	el.RegisterTimer(10*time.Millisecond, true)

	done := make(chan struct{})
	time.AfterFunc(60*time.Millisecond, func() { close(done) })

	start := time.Now()
	el.DrainUntil(rt, time.Time{}, done)

	assert.Less(t, time.Since(start), time.Second)
	assert.Positive(t, fired)
	assert.True(t, el.HasPending())
}

func TestEventLoop_DrainUntil_ClosedDoneReturnsAtOnce(t *testing.T) {
	el := New()
	rt := &recordingRuntime{}
	el.RegisterTimer(10*time.Millisecond, false)

	done := make(chan struct{})
	close(done)
	el.DrainUntil(rt, time.Time{}, done)

	assert.Empty(t, rt.evals)
	assert.True(t, el.HasPending())
}
