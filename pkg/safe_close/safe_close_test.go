package safe_close

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSafeClose(t *testing.T) {
	sc := NewSafeClose()
	exited := make(chan struct{})
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-closeSignal
		close(exited)
	})

	e1 := errors.New("first")
	sc.SendCloseSignal(e1)
	sc.SendCloseSignal(errors.New("second"))
	sc.Done()
	sc.CloseWait()
	<-exited
	require.Same(t, e1, sc.Err())

	// closed, f never runs
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		t.Error("attached after close")
		done()
	})
}

func TestSafeClose_CloseWaitTimeout(t *testing.T) {
	sc := NewSafeClose()
	block := make(chan struct{})
	sc.Attach(func(done func(), closeSignal <-chan struct{}) {
		defer done()
		<-block
	})
	sc.Done()
	require.ErrorIs(t, sc.CloseWaitTimeout(time.Millisecond*10), ErrCloseTimeout)

	close(block)
	require.NoError(t, sc.CloseWaitTimeout(time.Second*5))
}
