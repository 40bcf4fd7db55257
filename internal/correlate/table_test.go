package correlate

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/tether/internal/protocol"
)

type outcome struct {
	resp *protocol.Response
	err  error
}

func capture() (Handler, <-chan outcome, *atomic.Int32) {
	ch := make(chan outcome, 4)
	var calls atomic.Int32
	return func(resp *protocol.Response, err error) {
		calls.Add(1)
		ch <- outcome{resp: resp, err: err}
	}, ch, &calls
}

func waitOutcome(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for handler")
		return outcome{}
	}
}

func TestResolveDeliversResponse(t *testing.T) {
	tbl := New()
	h, ch, calls := capture()

	tbl.Register("a", protocol.KindScanNFC, time.Minute, h)
	require.Equal(t, 1, tbl.Len())

	resp := &protocol.Response{ID: "a", OK: true, Data: map[string]any{"id": "04A2"}}
	assert.True(t, tbl.Resolve("a", resp))

	got := waitOutcome(t, ch)
	assert.NoError(t, got.err)
	assert.Same(t, resp, got.resp)
	assert.Equal(t, 0, tbl.Len())

	// Duplicate delivery is ignored.
	assert.False(t, tbl.Resolve("a", resp))
	assert.Equal(t, int32(1), calls.Load())
}

func TestResolveUnknownIDIsNoop(t *testing.T) {
	tbl := New()
	assert.False(t, tbl.Resolve("missing", &protocol.Response{ID: "missing", OK: true}))
	assert.False(t, tbl.Fail("missing", errors.New("boom")))
}

func TestRegisterDuplicatePanics(t *testing.T) {
	tbl := New()
	h, _, _ := capture()
	tbl.Register("dup", protocol.KindLogin, time.Minute, h)

	assert.Panics(t, func() {
		tbl.Register("dup", protocol.KindLogin, time.Minute, h)
	})
	assert.Equal(t, 1, tbl.Len())
}

func TestExpireAfterTimeout(t *testing.T) {
	tbl := New()
	h, ch, _ := capture()

	const timeout = 50 * time.Millisecond
	start := time.Now()
	tbl.Register("slow", protocol.KindScanNFC, timeout, h)

	got := waitOutcome(t, ch)
	elapsed := time.Since(start)

	var terr *TimeoutError
	require.ErrorAs(t, got.err, &terr)
	assert.Equal(t, "Request timeout for SCAN_NFC", got.err.Error())
	assert.Equal(t, protocol.KindScanNFC, terr.Kind)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+time.Second)
	assert.Equal(t, 0, tbl.Len())

	// A response arriving after expiry is dropped.
	assert.False(t, tbl.Resolve("slow", &protocol.Response{ID: "slow", OK: true}))
}

func TestFailDeliversError(t *testing.T) {
	tbl := New()
	h, ch, _ := capture()
	tbl.Register("w", protocol.KindLogin, time.Minute, h)

	writeErr := errors.New("write |1: broken pipe")
	assert.True(t, tbl.Fail("w", writeErr))

	got := waitOutcome(t, ch)
	assert.ErrorIs(t, got.err, writeErr)
	assert.Nil(t, got.resp)
}

func TestRejectAllDrainsEveryEntry(t *testing.T) {
	tbl := New()
	reason := errors.New("worker exited before responding")

	const n = 25
	var wg sync.WaitGroup
	var rejected atomic.Int32
	wg.Add(n)
	for i := range n {
		tbl.Register(fmt.Sprintf("req-%d", i), protocol.KindScanNFC, time.Minute, func(resp *protocol.Response, err error) {
			defer wg.Done()
			if errors.Is(err, reason) {
				rejected.Add(1)
			}
		})
	}

	assert.Equal(t, n, tbl.RejectAll(reason))
	wg.Wait()

	assert.Equal(t, int32(n), rejected.Load())
	assert.Equal(t, 0, tbl.Len())
	assert.Empty(t, tbl.Pending())
	assert.Equal(t, 0, tbl.RejectAll(reason))
}

func TestPendingSorted(t *testing.T) {
	tbl := New()
	h, _, _ := capture()
	tbl.Register("b", protocol.KindScanNFC, time.Minute, h)
	tbl.Register("a", protocol.KindScanNFC, time.Minute, h)

	assert.Equal(t, []string{"a", "b"}, tbl.Pending())
	tbl.RejectAll(errors.New("done"))
}

// Every resolution path races for the same id; exactly one may win.
func TestSingleResolutionUnderRace(t *testing.T) {
	for i := range 200 {
		tbl := New()
		var calls atomic.Int32
		done := make(chan struct{}, 4)
		id := fmt.Sprintf("race-%d", i)

		tbl.Register(id, protocol.KindLogin, time.Millisecond, func(*protocol.Response, error) {
			calls.Add(1)
			done <- struct{}{}
		})

		var wg sync.WaitGroup
		wg.Add(3)
		go func() {
			defer wg.Done()
			tbl.Resolve(id, &protocol.Response{ID: id, OK: true})
		}()
		go func() {
			defer wg.Done()
			tbl.Fail(id, errors.New("write failed"))
		}()
		go func() {
			defer wg.Done()
			tbl.RejectAll(errors.New("worker exited"))
		}()
		wg.Wait()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: handler never ran", i)
		}
		// Give a late timer a chance to fire; it must be suppressed.
		time.Sleep(2 * time.Millisecond)
		require.Equal(t, int32(1), calls.Load(), "iteration %d", i)
		require.Equal(t, 0, tbl.Len())
	}
}

func TestConcurrentRegisterResolve(t *testing.T) {
	tbl := New()
	const n = 100

	results := make([]chan outcome, n)
	for i := range n {
		results[i] = make(chan outcome, 1)
		idx := i
		tbl.Register(fmt.Sprintf("id-%d", i), protocol.KindScanNFC, time.Minute, func(resp *protocol.Response, err error) {
			results[idx] <- outcome{resp: resp, err: err}
		})
	}

	// Resolve in reverse order from many goroutines.
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("id-%d", i)
			tbl.Resolve(id, &protocol.Response{ID: id, OK: true, Data: map[string]any{"n": i}})
		}(i)
	}
	wg.Wait()

	for i := range n {
		got := waitOutcome(t, results[i])
		require.NoError(t, got.err)
		assert.Equal(t, fmt.Sprintf("id-%d", i), got.resp.ID)
	}
	assert.Equal(t, 0, tbl.Len())
}
