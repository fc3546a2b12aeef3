package pending

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentuity/design-bridge/protocol"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTimeout = errors.New("command timeout")

func TestResolve(t *testing.T) {
	table := New()
	ch, err := table.Add("c1", "PING_TEST", time.Minute, errTimeout)
	require.NoError(t, err)
	assert.True(t, table.Has("c1"))

	assert.True(t, table.Resolve("c1", &protocol.Response{Success: true, Data: []byte(`"ok"`)}))
	res := <-ch
	require.NoError(t, res.Err)
	assert.True(t, res.Response.Success)
	assert.Equal(t, `"ok"`, string(res.Response.Data))
	assert.False(t, table.Has("c1"))
	assert.Equal(t, 0, table.Len())
}

func TestResolveUnknownIsIgnored(t *testing.T) {
	table := New()
	assert.False(t, table.Resolve("nope", &protocol.Response{Success: true}))
	assert.False(t, table.Reject("nope", errTimeout))
}

func TestDuplicateID(t *testing.T) {
	table := New()
	_, err := table.Add("c1", "a", time.Minute, errTimeout)
	require.NoError(t, err)
	_, err = table.Add("c1", "a", time.Minute, errTimeout)
	assert.True(t, errors.Is(err, ErrDuplicateID))
	assert.Equal(t, 1, table.Len())
}

func TestTimeout(t *testing.T) {
	table := New()
	start := time.Now()
	ch, err := table.Add("c1", "a", 30*time.Millisecond, errTimeout)
	require.NoError(t, err)
	res := <-ch
	assert.True(t, errors.Is(res.Err, errTimeout))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.False(t, table.Has("c1"))

	// a late response is discarded
	assert.False(t, table.Resolve("c1", &protocol.Response{Success: true}))
}

func TestIDReuseAfterCompletion(t *testing.T) {
	table := New()
	ch, err := table.Add("c1", "a", 20*time.Millisecond, errTimeout)
	require.NoError(t, err)
	require.True(t, table.Resolve("c1", &protocol.Response{Success: true}))
	<-ch

	ch, err = table.Add("c1", "b", time.Minute, errTimeout)
	require.NoError(t, err)
	// the first entry's timer must not touch the new entry
	time.Sleep(40 * time.Millisecond)
	assert.True(t, table.Has("c1"))
	assert.True(t, table.Resolve("c1", &protocol.Response{Success: true}))
	assert.NoError(t, (<-ch).Err)
}

// A response arriving at the exact moment the deadline fires must produce a
// single outcome.
func TestResolutionRacesDeadline(t *testing.T) {
	table := New()
	for i := 0; i < 500; i++ {
		ch, err := table.Add("r", "race", time.Millisecond, errTimeout)
		require.NoError(t, err)

		var wins atomic.Int32
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			if table.Resolve("r", &protocol.Response{Success: true}) {
				wins.Add(1)
			}
		}()
		res := <-ch
		wg.Wait()

		select {
		case extra := <-ch:
			t.Fatalf("second result delivered: %+v", extra)
		default:
		}
		if res.Err == nil {
			assert.Equal(t, int32(1), wins.Load())
		} else {
			assert.Equal(t, int32(0), wins.Load())
			assert.True(t, errors.Is(res.Err, errTimeout))
		}
		require.Equal(t, 0, table.Len())
	}
}

func TestCancel(t *testing.T) {
	table := New()
	ch, err := table.Add("c1", "a", time.Minute, errTimeout)
	require.NoError(t, err)
	assert.True(t, table.Cancel("c1"))
	assert.True(t, errors.Is((<-ch).Err, ErrCancelled))
	assert.False(t, table.Cancel("c1"))
}

func TestWaitContextCancel(t *testing.T) {
	table := New()
	ch, err := table.Add("c1", "a", time.Minute, errTimeout)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	res := table.Wait(ctx, "c1", ch)
	assert.True(t, errors.Is(res.Err, context.DeadlineExceeded))
	assert.Equal(t, 0, table.Len())
}

func TestWaitReturnsResponse(t *testing.T) {
	table := New()
	ch, err := table.Add("c1", "a", time.Minute, errTimeout)
	require.NoError(t, err)
	go table.Resolve("c1", &protocol.Response{Success: true})
	res := table.Wait(context.Background(), "c1", ch)
	require.NoError(t, res.Err)
	assert.True(t, res.Response.Success)
}

func TestCloseRejectsAll(t *testing.T) {
	table := New()
	closedErr := errors.New("closed")
	var chans []<-chan Result
	for _, id := range []string{"a", "b", "c"} {
		ch, err := table.Add(id, id, time.Minute, errTimeout)
		require.NoError(t, err)
		chans = append(chans, ch)
	}
	assert.Equal(t, 3, table.Close(closedErr))
	for _, ch := range chans {
		assert.True(t, errors.Is((<-ch).Err, closedErr))
	}
	_, err := table.Add("d", "d", time.Minute, errTimeout)
	assert.True(t, errors.Is(err, closedErr))
}

func TestAge(t *testing.T) {
	table := New()
	_, err := table.Add("c1", "a", time.Minute, errTimeout)
	require.NoError(t, err)
	age, ok := table.Age("c1")
	assert.True(t, ok)
	assert.Less(t, age, time.Minute)
	_, ok = table.Age("missing")
	assert.False(t, ok)
}
