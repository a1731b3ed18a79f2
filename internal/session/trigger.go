package session

import (
	"bufio"
	"context"
	"io"
	"sync"
)

// Trigger blocks until the operator asks for the next turn.
type Trigger interface {
	// Wait returns nil when a turn should start, io.EOF when no further
	// turns will be requested, or ctx.Err() when ctx is cancelled first.
	Wait(ctx context.Context) error
}

// LineTrigger starts a turn for every line read from an io.Reader, such as
// the operator pressing Enter on stdin.
//
// Reads happen on a background goroutine so that Wait can return on
// cancellation while the reader is still blocked. That goroutine lives until
// the reader returns an error.
type LineTrigger struct {
	r     *bufio.Reader
	once  sync.Once
	lines chan error
}

// NewLineTrigger returns a Trigger reading lines from r.
func NewLineTrigger(r io.Reader) *LineTrigger {
	return &LineTrigger{r: bufio.NewReader(r), lines: make(chan error)}
}

func (t *LineTrigger) read() {
	for {
		_, err := t.r.ReadString('\n')
		if err != nil {
			// An unterminated final line is not a trigger.
			t.lines <- io.EOF
			close(t.lines)
			return
		}
		t.lines <- nil
	}
}

// Wait implements Trigger.
func (t *LineTrigger) Wait(ctx context.Context) error {
	t.once.Do(func() { go t.read() })
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err, ok := <-t.lines:
		if !ok {
			return io.EOF
		}
		return err
	}
}
