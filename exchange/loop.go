// Package exchange runs the client's request/reply loop: send the current
// time, wait for the reply, print both, sleep, repeat.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/go-wsexchange/logger"
	"github.com/cyberinferno/go-wsexchange/utils"
	"github.com/cyberinferno/go-wsexchange/wserrors"
)

// Conn is an established duplex connection carrying whole text messages.
type Conn interface {
	Send(msg string) error
	Receive() (string, error)
}

// Config holds the loop timing.
type Config struct {
	// Offset is the fixed UTC offset timestamps are rendered at.
	Offset time.Duration
	// Interval is the pause after each completed cycle.
	Interval time.Duration
}

// DefaultConfig returns UTC+9 timestamps sent once per second.
func DefaultConfig() Config {
	return Config{
		Offset:   9 * time.Hour,
		Interval: time.Second,
	}
}

// Result is one completed cycle.
type Result struct {
	Sent     string
	Received string
}

// String renders the result the way the loop prints it.
func (r Result) String() string {
	return r.Sent + " --> " + r.Received
}

// Option configures a Loop.
type Option func(*Loop)

// WithOutput sets where result lines are printed. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(l *Loop) {
		l.out = w
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// WithSleep replaces the interruptible sleep between cycles.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(l *Loop) {
		l.sleep = sleep
	}
}

// Loop drives exchange cycles over one connection. It is not safe for
// concurrent use; run one Loop per connection.
type Loop struct {
	conn   Conn
	config Config
	log    logger.Logger
	out    io.Writer
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	cycles atomic.Uint64
}

// NewLoop creates a Loop over conn.
//
// Parameters:
//   - conn: An already established connection
//   - config: Offset and interval
//   - log: Logger for diagnostics
//   - opts: Optional overrides
//
// Returns:
//   - A new *Loop
func NewLoop(conn Conn, config Config, log logger.Logger, opts ...Option) *Loop {
	l := &Loop{
		conn:   conn,
		config: config,
		log:    log,
		out:    os.Stdout,
		now:    time.Now,
		sleep:  sleepContext,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Cycle performs one exchange without sleeping: format the timestamp, send
// it, wait for the reply and print "<sent> --> <received>".
//
// Returns:
//   - The completed Result
//   - A *wserrors.SendError or *wserrors.ReceiveError on transport failure
func (l *Loop) Cycle() (Result, error) {
	res := Result{Sent: utils.FormatTimestamp(l.now(), l.config.Offset)}

	if err := l.conn.Send(res.Sent); err != nil {
		var sendErr *wserrors.SendError
		if !errors.As(err, &sendErr) {
			err = &wserrors.SendError{Err: err}
		}
		return res, err
	}

	reply, err := l.conn.Receive()
	if err != nil {
		var recvErr *wserrors.ReceiveError
		if !errors.As(err, &recvErr) {
			err = &wserrors.ReceiveError{Err: err}
		}
		return res, err
	}

	res.Received = reply
	l.cycles.Add(1)
	fmt.Fprintln(l.out, res.String())
	return res, nil
}

// Run repeats Cycle with Interval pauses until a cycle fails or ctx is done.
//
// Returns:
//   - The first transport error, or ctx.Err() when cancelled, including when
//     the cancellation is what broke the connection
func (l *Loop) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if _, err := l.Cycle(); err != nil {
			// A connection torn down by cancellation is a shutdown, not a failure.
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			l.log.Error("exchange failed", logger.Field{Key: "error", Value: err},
				logger.Field{Key: "cycles", Value: l.cycles.Load()})
			return err
		}

		if err := l.sleep(ctx, l.config.Interval); err != nil {
			return err
		}
	}
}

// Cycles returns the number of completed cycles.
func (l *Loop) Cycles() uint64 {
	return l.cycles.Load()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
