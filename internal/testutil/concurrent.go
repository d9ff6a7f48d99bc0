package testutil

import "time"

// TestTime returns a fixed Monday morning used as "now" across scheduling tests.
func TestTime() time.Time {
	return time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
}

// RunConcurrent runs every function in its own goroutine and returns their errors in order.
func RunConcurrent(funcs ...func() error) []error {
	errs := make([]error, len(funcs))
	done := make(chan struct{}, len(funcs))
	for i, f := range funcs {
		go func() {
			errs[i] = f()
			done <- struct{}{}
		}()
	}
	for range funcs {
		<-done
	}
	return errs
}
