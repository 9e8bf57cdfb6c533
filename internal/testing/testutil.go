// Package testing provides test utilities for the tacho project.
//
// It offers the error channel pattern for tests that drive a producer and
// consumers from several goroutines, plus small pulse fixtures.
package testing

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// Error Channel Pattern
// =============================================================================

// GoroutineTest provides safe testing utilities for goroutines.
//
// Using t.Fatal or t.FailNow in a goroutine causes the test to hang because
// these functions call runtime.Goexit() which only exits the current goroutine,
// not the test goroutine. Functions run through Go return an error instead.
//
// Example usage:
//
//	func TestProducerConsumer(t *testing.T) {
//	    gt := tachotest.NewGoroutineTest(t)
//	    defer gt.Wait()
//
//	    gt.Go(func() error {
//	        for _, ts := range pulses {
//	            m.Insert(ts)
//	        }
//	        return nil
//	    })
//	    gt.Go(func() error {
//	        _, err := m.Read(3*time.Second, now)
//	        return err
//	    })
//	}
type GoroutineTest struct {
	t      *testing.T
	wg     sync.WaitGroup
	errors chan error
	ctx    context.Context
	cancel context.CancelFunc
}

// NewGoroutineTest creates a new GoroutineTest helper.
func NewGoroutineTest(t *testing.T) *GoroutineTest {
	return NewGoroutineTestWithTimeout(t, 0)
}

// NewGoroutineTestWithTimeout creates a GoroutineTest whose context expires
// after timeout. A zero timeout never expires.
func NewGoroutineTestWithTimeout(t *testing.T, timeout time.Duration) *GoroutineTest {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), timeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	return &GoroutineTest{
		t:      t,
		errors: make(chan error, 100),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Go runs a function in a goroutine and collects any error it returns.
func (gt *GoroutineTest) Go(fn func() error) {
	gt.GoWithContext(func(context.Context) error { return fn() })
}

// GoWithContext runs a function with the test context in a goroutine.
func (gt *GoroutineTest) GoWithContext(fn func(ctx context.Context) error) {
	gt.wg.Add(1)
	go func() {
		defer gt.wg.Done()
		if err := fn(gt.ctx); err != nil {
			select {
			case gt.errors <- err:
			default:
				gt.t.Logf("error channel full, dropping error: %v", err)
			}
		}
	}()
}

// Wait waits for all goroutines to complete and fails the test if any errors occurred.
//
// This should be called with defer right after creating the GoroutineTest.
func (gt *GoroutineTest) Wait() {
	gt.wg.Wait()
	gt.cancel()
	close(gt.errors)

	var errs []error
	for err := range gt.errors {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		gt.t.Errorf("goroutine test failed with %d error(s):", len(errs))
		for i, err := range errs {
			gt.t.Errorf("  [%d] %v", i+1, err)
		}
		gt.t.FailNow()
	}
}

// Context returns the context for this test.
func (gt *GoroutineTest) Context() context.Context {
	return gt.ctx
}

// Cancel cancels the context, signaling goroutines to stop.
func (gt *GoroutineTest) Cancel() {
	gt.cancel()
}

// =============================================================================
// Timing Helpers
// =============================================================================

// WithTimeout runs fn and returns an error if it does not finish in time.
func WithTimeout(timeout time.Duration, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("operation timed out after %v", timeout)
	}
}

// Eventually waits for a condition to become true.
//
// Example:
//
//	err := tachotest.Eventually(time.Second, 10*time.Millisecond, func() bool {
//	    return sink.Len() >= 5
//	})
func Eventually(timeout, interval time.Duration, condition func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if condition() {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("condition not met within %v", timeout)
		}
		time.Sleep(interval)
	}
}

// =============================================================================
// Pulse Fixtures
// =============================================================================

// Pulses returns n timestamps starting at start, period apart.
func Pulses(start, period int64, n int) []int64 {
	ts := make([]int64, n)
	for i := range ts {
		ts[i] = start + int64(i)*period
	}
	return ts
}

// RecordingSink collects inserted timestamps. It is safe for concurrent use.
type RecordingSink struct {
	mu  sync.Mutex
	ts  []int64
	sig chan struct{}
}

// NewRecordingSink creates an empty RecordingSink.
func NewRecordingSink() *RecordingSink {
	return &RecordingSink{sig: make(chan struct{}, 1)}
}

// Insert records ts.
func (s *RecordingSink) Insert(ts int64) {
	s.mu.Lock()
	s.ts = append(s.ts, ts)
	s.mu.Unlock()

	select {
	case s.sig <- struct{}{}:
	default:
	}
}

// Len returns the number of recorded timestamps.
func (s *RecordingSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ts)
}

// Timestamps returns a copy of the recorded timestamps.
func (s *RecordingSink) Timestamps() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.ts)
}

// WaitFor blocks until at least n timestamps are recorded or timeout passes.
func (s *RecordingSink) WaitFor(n int, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for s.Len() < n {
		select {
		case <-s.sig:
		case <-timer.C:
			return fmt.Errorf("got %d of %d pulses within %v", s.Len(), n, timeout)
		}
	}
	return nil
}
