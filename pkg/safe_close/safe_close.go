// Package safe_close coordinates the shutdown of a service and its
// goroutines.
package safe_close

import (
	"errors"
	"sync"
	"time"
)

var ErrCloseTimeout = errors.New("close timeout")

// SafeClose is shared by a service and its goroutines.
//
// The main goroutine waits on ReceiveCloseSignal and calls Done once it
// stopped. Other goroutines are started with Attach and stop when the close
// signal arrives. Any of them may call SendCloseSignal on a fatal error. A
// caller outside of the service calls CloseWait, which must never be called
// from inside the service.
type SafeClose struct {
	mu       sync.Mutex
	closeErr error
	signal   chan struct{}

	attached sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// CloseWait sends the close signal and blocks until Done was called and
// every attached goroutine returned. It may be called more than once.
func (s *SafeClose) CloseWait() {
	s.SendCloseSignal(nil)
	s.attached.Wait()
	<-s.done
}

// CloseWaitTimeout is CloseWait giving up after d. Goroutines that did not
// return yet keep running.
func (s *SafeClose) CloseWaitTimeout(d time.Duration) error {
	exited := make(chan struct{})
	go func() {
		s.CloseWait()
		close(exited)
	}()
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-exited:
		return nil
	case <-t.C:
		return ErrCloseTimeout
	}
}

// SendCloseSignal closes the signal channel. Only the err of the first call
// is kept.
func (s *SafeClose) SendCloseSignal(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.signalled() {
		return
	}
	s.closeErr = err
	close(s.signal)
}

func (s *SafeClose) signalled() bool {
	select {
	case <-s.signal:
		return true
	default:
		return false
	}
}

// Err returns the error passed to the first SendCloseSignal.
func (s *SafeClose) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.signal
}

// Attach runs f in a new goroutine that CloseWait waits for. f must return
// after closeSignal is closed and call done. f does not run if the close
// signal was already sent.
func (s *SafeClose) Attach(f func(done func(), closeSignal <-chan struct{})) {
	s.mu.Lock()
	if s.signalled() {
		s.mu.Unlock()
		return
	}
	s.attached.Add(1)
	s.mu.Unlock()

	go f(s.attached.Done, s.signal)
}

// Done tells CloseWait that the main goroutine stopped. It may be called
// more than once.
func (s *SafeClose) Done() {
	s.doneOnce.Do(func() { close(s.done) })
}
