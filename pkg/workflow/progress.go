package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"

	"github.com/ethpandaops/validator-deposits/pkg/device"
)

// DefaultProgressInterval is how often a pending device call is reported.
const DefaultProgressInterval = 10 * time.Second

var errDeviceTimeout = errors.New("device call timed out")

// callDevice runs one device operation under timeout, reporting progress to ui
// until it returns. Time spent waiting for operator approval counts towards
// neither the timeout nor the reported wait. The reporter goroutine has exited
// when callDevice returns.
func callDevice[T any](
	ctx context.Context,
	clock clockwork.Clock,
	ui UI,
	timeout, interval time.Duration,
	what string,
	fn func(ctx context.Context) (T, error),
) (T, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	w := &watchdog{
		clock:    clock,
		ui:       ui,
		timeout:  timeout,
		interval: interval,
		what:     what,
		expire:   func() { cancel(errDeviceTimeout) },
		hold:     make(chan bool),
		ack:      make(chan struct{}),
		stop:     make(chan struct{}),
	}

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		w.run()
	}()

	out, err := fn(device.WithApprovalHook(ctx, w.pause))

	close(w.stop)
	wg.Wait()

	if err != nil && errors.Is(context.Cause(ctx), errDeviceTimeout) {
		var zero T

		return zero, errors.Wrapf(device.ErrDeviceUnavailable, "%s: no answer within %s", what, timeout)
	}

	return out, err
}

// watchdog reports a pending device call and expires it. Both are suspended
// while the call waits for operator approval.
type watchdog struct {
	clock    clockwork.Clock
	ui       UI
	timeout  time.Duration
	interval time.Duration
	what     string
	expire   func()

	hold chan bool
	ack  chan struct{}
	stop chan struct{}
}

// pause suspends the watchdog until the returned func is called.
func (w *watchdog) pause() func() {
	w.set(true)

	return func() { w.set(false) }
}

func (w *watchdog) set(paused bool) {
	w.hold <- paused
	<-w.ack
}

func (w *watchdog) run() {
	var (
		ticker  clockwork.Ticker
		timer   clockwork.Timer
		waited  time.Duration
		resumed time.Time
		paused  bool
		expired bool
	)

	arm := func() {
		resumed = w.clock.Now()

		if w.interval > 0 {
			ticker = w.clock.NewTicker(w.interval)
		}

		if w.timeout > 0 && !expired {
			timer = w.clock.NewTimer(max(w.timeout-waited, 0))
		}
	}

	disarm := func() {
		waited += w.clock.Since(resumed)

		if ticker != nil {
			ticker.Stop()
			ticker = nil
		}

		if timer != nil {
			timer.Stop()
			timer = nil
		}
	}

	arm()
	defer disarm()

	for {
		var ticks, deadline <-chan time.Time

		if ticker != nil {
			ticks = ticker.Chan()
		}

		if timer != nil {
			deadline = timer.Chan()
		}

		select {
		case <-w.stop:
			return
		case <-ticks:
			elapsed := waited + w.clock.Since(resumed)
			w.ui.Info(fmt.Sprintf("⏳ %s, waiting for device (%s)", w.what, elapsed.Round(time.Second)))
		case <-deadline:
			timer = nil
			expired = true

			w.expire()
		case p := <-w.hold:
			if p != paused {
				paused = p

				if paused {
					disarm()
				} else {
					arm()
				}
			}

			w.ack <- struct{}{}
		}
	}
}
