package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRunReturnsWhenNothingAlive(t *testing.T) {
	l := New(nil)
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not exit with no handles")
	}
}

func TestTimerFiresInOrder(t *testing.T) {
	l := New(nil)
	var got []int
	t1 := l.NewTimer()
	t2 := l.NewTimer()
	t1.Start(func() { got = append(got, 1) }, 20*time.Millisecond, 0)
	t2.Start(func() { got = append(got, 2) }, 5*time.Millisecond, 0)
	l.Run()
	require.Equal(t, []int{2, 1}, got)
}

func TestRepeatingTimerStops(t *testing.T) {
	l := New(nil)
	var count int
	tm := l.NewTimer()
	tm.Start(func() {
		count++
		if count == 3 {
			tm.Close(nil)
		}
	}, time.Millisecond, time.Millisecond)
	l.Run()
	require.Equal(t, 3, count)
}

func TestUnrefedTimerDoesNotKeepLoopAlive(t *testing.T) {
	l := New(nil)
	tm := l.NewTimer()
	tm.Start(func() { t.Error("should not fire") }, time.Hour, 0)
	tm.Unref()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("unrefed timer kept loop alive")
	}
}

func TestAsyncSendCoalescesAndWakes(t *testing.T) {
	l := New(nil)
	var fired int32
	var a *Async
	a = l.NewAsync(func() {
		atomic.AddInt32(&fired, 1)
		a.Close(nil)
	})
	go func() {
		a.Send()
		a.Send()
	}()
	l.Run()
	require.Equal(t, int32(1), atomic.LoadInt32(&fired))
}

func TestSubmitRunsBeforeCheckPhase(t *testing.T) {
	l := New(nil)
	var order []string
	c := l.NewCheck()
	c.Unref()
	c.Start(func() {
		if len(order) > 0 && order[len(order)-1] == "task" {
			order = append(order, "check")
		}
	})
	tm := l.NewTimer()
	tm.Start(func() {
		_ = l.Submit(func() { order = append(order, "task") })
	}, time.Millisecond, 0)
	l.Run()
	require.Equal(t, []string{"task", "check"}, order)
}

func TestQueueWorkDeliversOnLoop(t *testing.T) {
	l := New(nil)
	var res interface{}
	var err error
	l.QueueWork(func() (interface{}, error) {
		return 42, nil
	}, func(r interface{}, e error) {
		res, err = r, e
	})
	l.Run()
	require.NoError(t, err)
	require.Equal(t, 42, res)
}

func TestHandleDoubleCloseIsNoop(t *testing.T) {
	l := New(nil)
	h := l.NewHandle()
	var closes int
	h.Close(func() { closes++ })
	h.Close(func() { closes++ })
	l.Run()
	require.Equal(t, 1, closes)
}

func TestStopInterruptsRun(t *testing.T) {
	l := New(nil)
	tm := l.NewTimer()
	tm.Start(func() {}, time.Hour, 0)
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Stop()
	}()
	done := make(chan struct{})
	go func() {
		l.Run()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not interrupt Run")
	}
}

func TestIdleForcesNonBlockingPoll(t *testing.T) {
	l := New(nil)
	idle := l.NewIdle()
	idle.Unref()
	var iterations int
	idle.Start(nil)
	tm := l.NewTimer()
	tm.Start(func() {
		iterations++
	}, 50*time.Millisecond, 0)
	start := time.Now()
	l.Run()
	require.Equal(t, 1, iterations)
	require.Less(t, time.Since(start), 5*time.Second)
}
