package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitWaitRunsTask(t *testing.T) {
	s := New(Config{MaxConcurrent: 2, DefaultWeight: 1})
	defer s.Close()

	var ran atomic.Bool
	err := s.SubmitWait(context.Background(), &Task{Fn: func(ctx context.Context) {
		ran.Store(true)
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ran.Load() {
		t.Fatal("expected task to run")
	}
}

func TestEDFRunsBeforeWFQWhenBothPending(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, DefaultWeight: 1})
	defer s.Close()

	var order []string
	var mu sync.Mutex
	record := func(name string) {
		mu.Lock()
		order = append(order, name)
		mu.Unlock()
	}

	// Occupy the single worker so both submissions queue up before the
	// dispatcher is free to choose between them.
	block := make(chan struct{})
	started := make(chan struct{})
	s.Submit(&Task{Fn: func(ctx context.Context) {
		close(started)
		<-block
	}})
	<-started

	var wg sync.WaitGroup
	wg.Add(2)
	s.Submit(&Task{Class: "default", Fn: func(ctx context.Context) {
		record("wfq")
		wg.Done()
	}})
	s.Submit(&Task{Deadline: time.Now().Add(time.Hour), Fn: func(ctx context.Context) {
		record("edf")
		wg.Done()
	}})

	time.Sleep(20 * time.Millisecond) // let both land in their intakes
	close(block)
	wg.Wait()

	if len(order) != 2 || order[0] != "edf" {
		t.Fatalf("expected edf to run before wfq, got %v", order)
	}
}

func TestExpiredDeadlineDroppedWithoutConsumingSlot(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, DefaultWeight: 1})
	defer s.Close()

	var expiredRan, freshRan atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	s.Submit(&Task{Deadline: time.Now().Add(-time.Hour), Fn: func(ctx context.Context) {
		expiredRan.Store(true)
	}})
	s.Submit(&Task{Fn: func(ctx context.Context) {
		freshRan.Store(true)
		wg.Done()
	}})
	wg.Wait()

	if expiredRan.Load() {
		t.Fatal("expired task should have been dropped, not run")
	}
	if !freshRan.Load() {
		t.Fatal("expected the non-expired task to still run")
	}
}

func TestCancelledSubmitWaitSkipsFnOnDispatch(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, DefaultWeight: 1})
	defer s.Close()

	// Occupy the single worker so the next submission sits queued until
	// its caller has already given up.
	block := make(chan struct{})
	started := make(chan struct{})
	s.Submit(&Task{Fn: func(ctx context.Context) {
		close(started)
		<-block
	}})
	<-started

	ctx, cancel := context.WithCancel(context.Background())
	var ran atomic.Bool
	waitDone := make(chan error, 1)
	go func() {
		waitDone <- s.SubmitWait(ctx, &Task{Fn: func(ctx context.Context) {
			ran.Store(true)
		}})
	}()

	cancel()
	if err := <-waitDone; err == nil {
		t.Fatal("expected SubmitWait to return an error once ctx was cancelled")
	}

	close(block)
	time.Sleep(20 * time.Millisecond) // let the dispatcher drain the now-cancelled task
	if ran.Load() {
		t.Fatal("expected dispatchLoop to skip Fn for a task cancelled before dispatch")
	}
}

func TestWFQOrdersByVirtualFinishWithinClass(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, DefaultWeight: 1})
	defer s.Close()

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(3)

	block := make(chan struct{})
	started := make(chan struct{})
	s.Submit(&Task{Fn: func(ctx context.Context) {
		close(started)
		<-block
	}})
	<-started

	for i := 1; i <= 3; i++ {
		i := i
		s.Submit(&Task{Class: "c", Fn: func(ctx context.Context) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			wg.Done()
		}})
	}
	time.Sleep(10 * time.Millisecond)
	close(block)
	wg.Wait()

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("expected FIFO order [1 2 3] within one class, got %v", order)
	}
}

func TestHigherWeightClassDequeuesFasterEarlyOn(t *testing.T) {
	s := New(Config{MaxConcurrent: 1, ClassWeights: map[string]float64{"heavy": 4, "light": 1}, DefaultWeight: 1})
	defer s.Close()

	const total = 20
	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	wg.Add(total * 2)

	block := make(chan struct{})
	started := make(chan struct{})
	s.Submit(&Task{Fn: func(ctx context.Context) {
		close(started)
		<-block
	}})
	<-started

	for i := 0; i < total; i++ {
		s.Submit(&Task{Class: "heavy", Fn: func(ctx context.Context) {
			mu.Lock()
			order = append(order, "heavy")
			mu.Unlock()
			wg.Done()
		}})
		s.Submit(&Task{Class: "light", Fn: func(ctx context.Context) {
			mu.Lock()
			order = append(order, "light")
			mu.Unlock()
			wg.Done()
		}})
	}
	time.Sleep(20 * time.Millisecond)
	close(block)
	wg.Wait()

	// With weight 4 vs 1, a class-4x-cheaper item's virtual finish time
	// grows a quarter as fast, so it should dominate the front of the
	// dequeue order (spec §4.2: share proportional to w_c).
	mu.Lock()
	firstTen := append([]string(nil), order[:10]...)
	mu.Unlock()
	heavy := 0
	for _, v := range firstTen {
		if v == "heavy" {
			heavy++
		}
	}
	if heavy < 7 {
		t.Fatalf("expected heavy class to dominate the first 10 dequeues (>=7), got %d: %v", heavy, firstTen)
	}
}
