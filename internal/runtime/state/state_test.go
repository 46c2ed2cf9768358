package state

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateString(t *testing.T) {
	assert.Equal(t, "starting", Starting.String())
	assert.Equal(t, "started", Started.String())
	assert.Equal(t, "retrying", Retrying.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "unknown", State(99).String())
}

func TestRecovering(t *testing.T) {
	assert.True(t, Starting.Recovering())
	assert.True(t, Retrying.Recovering())
	assert.False(t, Started.Recovering())
	assert.False(t, Stopped.Recovering())
}

func TestCellChangeStateWakesAllWaiters(t *testing.T) {
	cell := NewCell(Retrying)

	const waiters = 5
	var wg sync.WaitGroup
	results := make(chan State, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := cell.WaitForStateChange(context.Background(), 0)
			assert.NoError(t, err)
			results <- st
		}()
	}

	time.Sleep(20 * time.Millisecond)
	cell.ChangeState(Started)
	wg.Wait()
	close(results)

	for st := range results {
		assert.Equal(t, Started, st)
	}
}

func TestCellSameStateIsNoop(t *testing.T) {
	cell := NewCell(Started)
	before := cell.Changed()
	cell.ChangeState(Started)

	select {
	case <-before:
		t.Fatal("changing to the current state must not notify")
	default:
	}
}

func TestCellStoppedIsTerminal(t *testing.T) {
	cell := NewCell(Started)
	cell.ChangeState(Stopped)

	select {
	case <-cell.Done():
	default:
		t.Fatal("expected Done to be closed after Stopped")
	}

	cell.ChangeState(Started)
	assert.Equal(t, Stopped, cell.State())

	initiallyStopped := NewCell(Stopped)
	select {
	case <-initiallyStopped.Done():
	default:
		t.Fatal("expected Done to be closed for a cell created stopped")
	}
}

func TestWaitForStateChangeTimeout(t *testing.T) {
	cell := NewCell(Retrying)
	start := time.Now()
	st, err := cell.WaitForStateChange(context.Background(), 30*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, Retrying, st)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitForStateChangeContext(t *testing.T) {
	cell := NewCell(Starting)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, err := cell.WaitForStateChange(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Starting, st)
}

func TestOnChangeHooks(t *testing.T) {
	cell := NewCell(Starting)
	var transitions [][2]State
	cell.OnChange(func(from, to State) {
		transitions = append(transitions, [2]State{from, to})
	})
	cell.OnChange(nil)

	cell.ChangeState(Started)
	cell.ChangeState(Retrying)
	cell.ChangeState(Retrying)

	assert.Equal(t, [][2]State{{Starting, Started}, {Started, Retrying}}, transitions)
}
