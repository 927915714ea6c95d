package workerpool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmitBoundsConcurrency(t *testing.T) {
	p := New(2)
	var current, max int32

	start := make(chan struct{})
	done := make(chan struct{})

	for i := 0; i < 6; i++ {
		go func() {
			p.Submit(context.Background(), func(ctx context.Context) {
				n := atomic.AddInt32(&current, 1)
				for {
					old := atomic.LoadInt32(&max)
					if n <= old || atomic.CompareAndSwapInt32(&max, old, n) {
						break
					}
				}
				<-start
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&current, -1)
			})
			done <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(start)
	for i := 0; i < 6; i++ {
		<-done
	}

	if atomic.LoadInt32(&max) > 2 {
		t.Fatalf("expected at most 2 concurrent tasks, observed %d", max)
	}
}

func TestSubmitRespectsContextCancellation(t *testing.T) {
	p := New(1)
	blocking := make(chan struct{})
	go p.Submit(context.Background(), func(ctx context.Context) {
		<-blocking
	})
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := p.Submit(ctx, func(ctx context.Context) {
		t.Fatal("fn must not run when the pool is saturated and ctx expires")
	})
	if err == nil {
		t.Fatal("expected an error when context expires waiting for a slot")
	}
	close(blocking)
}

func TestShutdownWaitsForInflight(t *testing.T) {
	p := New(1)
	started := make(chan struct{})
	release := make(chan struct{})
	go p.Submit(context.Background(), func(ctx context.Context) {
		close(started)
		<-release
	})
	<-started

	shutdownDone := make(chan struct{})
	go func() {
		p.Shutdown()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		t.Fatal("Shutdown returned before in-flight task finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-shutdownDone:
	case <-time.After(time.Second):
		t.Fatal("Shutdown did not return after in-flight task finished")
	}
}

func TestSubmitAfterShutdownFails(t *testing.T) {
	p := New(1)
	p.Shutdown()
	err := p.Submit(context.Background(), func(ctx context.Context) {
		t.Fatal("fn must not run after shutdown")
	})
	if err == nil {
		t.Fatal("expected Submit after Shutdown to fail")
	}
}
