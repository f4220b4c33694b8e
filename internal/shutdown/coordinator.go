// Package shutdown implements the Shutdown Coordinator (spec §4.7): a
// single cancellation event reachable from two independent channels, a
// rendezvous file and an OS signal, each firing it at most once.
//
// Grounded on silver-cold-flusher/go/main.go's signal.Notify-plus-ticker
// idiom, generalised from a fixed flush ticker into a bounded-cadence file
// poll.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/withObsrvr/exchange-ingest/internal/logging"
)

// DefaultPollInterval is the rendezvous file poll cadence (spec §4.7's "≤ 1s").
const DefaultPollInterval = 500 * time.Millisecond

// Coordinator owns the single cancel event for one process. Construct one
// per Job Runner invocation.
type Coordinator struct {
	path         string
	pollInterval time.Duration
	log          *logging.ComponentLogger

	once   sync.Once
	ctx    context.Context
	cancel context.CancelFunc

	stopPoll chan struct{}
	stopSig  chan os.Signal
}

// New builds a Coordinator watching rendezvousPath. Call Start to begin
// polling and listening for signals; call Stop to release resources once
// the invocation has finished.
func New(rendezvousPath string, log *logging.ComponentLogger) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		path:         rendezvousPath,
		pollInterval: DefaultPollInterval,
		log:          log,
		ctx:          ctx,
		cancel:       cancel,
		stopPoll:     make(chan struct{}),
	}
}

// Done returns a channel that is closed the instant either channel fires.
func (c *Coordinator) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Context returns the Coordinator's cancellation context directly, for
// passing to operations that want ctx.Err() rather than a channel.
func (c *Coordinator) Context() context.Context {
	return c.ctx
}

// Cancelled reports whether the cancel event has already fired.
func (c *Coordinator) Cancelled() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

// fire triggers the cancel event exactly once, regardless of which channel
// calls it or how many times.
func (c *Coordinator) fire(reason string) {
	c.once.Do(func() {
		c.log.Warn().Str("reason", reason).Msg("shutdown requested")
		c.cancel()
	})
}

// Start launches the file-poll goroutine and the signal handler. Both only
// ever set the cancel flag; neither exits the process (spec §4.7).
func (c *Coordinator) Start() {
	c.stopSig = make(chan os.Signal, 1)
	signal.Notify(c.stopSig, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig, ok := <-c.stopSig:
			if ok {
				c.fire("signal:" + sig.String())
			}
		case <-c.stopPoll:
		}
	}()

	go func() {
		ticker := time.NewTicker(c.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if FileExists(c.path) {
					c.fire("rendezvous_file")
					return
				}
			case <-c.stopPoll:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// Stop releases the signal subscription and the poll goroutine. It does
// not un-cancel the coordinator.
func (c *Coordinator) Stop() {
	close(c.stopPoll)
	signal.Stop(c.stopSig)
}

// FileExists is a race-safe existence check: only existence matters, so a
// plain stat suffices (spec §5's shared-resource policy).
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CreateRendezvousFile creates the rendezvous file, idempotently.
func CreateRendezvousFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// RemoveRendezvousFile removes the rendezvous file, idempotently (it is
// not an error for the file to already be absent).
func RemoveRendezvousFile(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
