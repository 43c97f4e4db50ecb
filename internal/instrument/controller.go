// Package instrument talks to the beamline's motion and detector
// controller over a serial line. A single Controller multiplexes the
// port: Monitor fans every line out to subscribers, and each Move or
// Count subscribes, writes its command and waits for the matching reply.
package instrument

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/beamscan/internal/monitoring"
	"github.com/banshee-data/beamscan/internal/scan"
	"github.com/banshee-data/beamscan/internal/timeutil"
)

// DefaultTimeout bounds how long Move and Count wait for a reply.
const DefaultTimeout = 30 * time.Second

// tapBuffer is how many unread lines a subscriber may fall behind by
// before lines are dropped for it.
const tapBuffer = 16

// Controller multiplexes one serial port between the scan loop and any
// number of line subscribers.
type Controller[T SerialPorter] struct {
	// Timeout bounds a single command round trip. Zero means DefaultTimeout.
	Timeout time.Duration
	Clock   timeutil.Clock

	port    T
	txMu    sync.Mutex // one round trip at a time
	writeMu sync.Mutex

	mu     sync.Mutex // guards the fields below
	taps   map[int]chan string
	nextID int
	closed bool
}

// NewController wraps port. Call Monitor in its own goroutine before
// issuing commands.
func NewController[T SerialPorter](port T) *Controller[T] {
	return &Controller[T]{
		Clock: timeutil.RealClock{},
		port:  port,
		taps:  make(map[int]chan string),
	}
}

// Subscribe returns a channel receiving every line read from the port.
// The channel is closed by Unsubscribe or Close; after Close it is
// returned already closed.
func (c *Controller[T]) Subscribe() (int, <-chan string) {
	ch := make(chan string, tapBuffer)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return -1, ch
	}
	c.nextID++
	c.taps[c.nextID] = ch
	return c.nextID, ch
}

func (c *Controller[T]) Unsubscribe(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.taps[id]; ok {
		delete(c.taps, id)
		close(ch)
	}
}

// broadcast hands line to every subscriber that has room for it.
func (c *Controller[T]) broadcast(line string) {
	monitoring.Debugf("instrument <- %s", line)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range c.taps {
		select {
		case ch <- line:
		default:
		}
	}
}

// Closed reports whether Close has been called.
func (c *Controller[T]) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SendCommand writes one command line to the port. A trailing newline is
// added when missing.
func (c *Controller[T]) SendCommand(command string) error {
	if c.Closed() {
		return ErrClosed
	}
	line := strings.TrimRight(command, "\n") + "\n"
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	monitoring.Debugf("instrument -> %s", strings.TrimSpace(line))
	n, err := io.WriteString(c.port, line)
	switch {
	case err != nil:
		return err
	case n < len(line):
		return ErrWriteFailed
	}
	return nil
}

// Monitor reads lines from the port and broadcasts them until ctx is done
// or the port stops yielding lines. A read error after Close, or plain
// EOF, ends Monitor with a nil error.
func (c *Controller[T]) Monitor(ctx context.Context) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.port)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			c.broadcast(line)
		case err := <-readErr:
			if c.Closed() {
				return nil
			}
			return err
		}
	}
}

// Close ends every subscription and closes the port. Later calls are
// no-ops.
func (c *Controller[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	for id, ch := range c.taps {
		delete(c.taps, id)
		close(ch)
	}
	c.mu.Unlock()
	return c.port.Close()
}

// transact sends command and feeds replies to match until it reports done.
// Transactions are serialised so replies cannot interleave.
func (c *Controller[T]) transact(ctx context.Context, command string, match func(reply) (bool, error)) error {
	c.txMu.Lock()
	defer c.txMu.Unlock()

	id, ch := c.Subscribe()
	defer c.Unsubscribe(id)

	if err := c.SendCommand(command); err != nil {
		return err
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	timer := c.Clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C():
			return ErrTimeout
		case line, ok := <-ch:
			if !ok {
				return ErrClosed
			}
			r, ok := parseReply(line)
			if !ok {
				continue
			}
			if done, err := match(r); done {
				return err
			}
		}
	}
}

// Move drives axis to value and waits for the controller to confirm.
func (c *Controller[T]) Move(ctx context.Context, axis string, value float64) error {
	err := c.transact(ctx, moveCommand(axis, value), func(r reply) (bool, error) {
		if r.target != axis {
			return false, nil
		}
		switch r.kind {
		case replyPos:
			return true, nil
		case replyErr:
			return true, &DeviceError{Target: axis, Message: r.message}
		}
		return false, nil
	})
	if err != nil {
		return &MotionError{Axis: axis, Value: value, Err: err}
	}
	return nil
}

// Count acquires frames on the detector and returns the integrated counts.
func (c *Controller[T]) Count(ctx context.Context, frames int) (float64, error) {
	var counts float64
	err := c.transact(ctx, countCommand(frames), func(r reply) (bool, error) {
		switch {
		case r.kind == replyCounts:
			counts = r.value
			return true, nil
		case r.kind == replyErr && r.target == detectorTarget:
			return true, &DeviceError{Target: detectorTarget, Message: r.message}
		}
		return false, nil
	})
	if err != nil {
		return 0, &AcquisitionError{Frames: frames, Err: err}
	}
	return counts, nil
}

// Axis binds Move to one axis name for use in a scan.
func (c *Controller[T]) Axis(name string) scan.Action {
	return func(ctx context.Context, value float64) error {
		return c.Move(ctx, name, value)
	}
}

// Detector returns a sampler that counts frames at every scan step.
func (c *Controller[T]) Detector(frames int) scan.Sampler {
	return scan.SamplerFunc(func(ctx context.Context) (float64, error) {
		return c.Count(ctx, frames)
	})
}

// Record marks a run in the controller's own journal: the title is set,
// then a BEGIN/END pair brackets the step. The value is already held by
// the controller, which produced it.
func (c *Controller[T]) Record(ctx context.Context, title string, pos scan.Position, value float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	title = strings.Join(strings.Fields(title), " ")
	for _, cmd := range []string{cmdTitle + " " + title, cmdBegin, cmdEnd} {
		if err := c.SendCommand(cmd); err != nil {
			return err
		}
	}
	return nil
}
