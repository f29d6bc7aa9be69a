// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package bastion

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Observer is a subsystem which needs to initialize before traffic
// flows and tear down before the server exits. Observers are attached
// while the supervisor is Stopped and receive their callbacks
// concurrently within each lifecycle phase.
//
// OnStart may fail; any failure aborts startup and triggers the full
// shutdown sequence. OnStop may fail; failures are captured but never
// abort the sequence.
type Observer interface {
	OnStart(ctx context.Context, host *Supervisor) error
	OnStop(ctx context.Context, host *Supervisor) error
}

// Supervisor is the server lifecycle core. It owns a set of bound
// listeners, accepts connections under global and per-peer caps,
// evicts idle connections against a shared coarse clock and
// orchestrates observer startup and shutdown around it all.
type Supervisor struct {
	opts Options

	log    *slog.Logger
	tracer trace.Tracer
	clock  *TimeReference
	conns  *connTracker
	nextID atomic.Uint64

	mu            sync.Mutex
	state         State
	observers     []Observer
	cycle         []Observer
	listeners     []BoundListener
	driverFactory DriverFactory
	responder     Responder
	errHandler    ErrorHandler
	serveCancel   context.CancelFunc

	accepting sync.WaitGroup
}

var errNilListener = errors.New("bastion: nil listener")

// New returns a fully initialized Supervisor in the Stopped state.
func New(opts ...Option) (*Supervisor, error) {
	cfg := config{
		opts: Options{
			ConnectionTimeout: 120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		logHandler:    noopLogHandler{},
		driverFactory: http1Factory{},
		errHandler:    ErrorHandlerFunc(defaultErrorHandler),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	for _, bl := range cfg.listeners {
		if bl.ln == nil {
			return nil, errNilListener
		}
	}

	s := &Supervisor{
		opts:          cfg.opts,
		log:           slog.New(cfg.logHandler),
		tracer:        otel.Tracer("github.com/z5labs/bastion"),
		clock:         newTimeReference(),
		listeners:     cfg.listeners,
		driverFactory: cfg.driverFactory,
		responder:     cfg.responder,
		errHandler:    cfg.errHandler,
	}

	conns, err := newConnTracker(s.log, s.clock, int64(cfg.opts.ConnectionTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	s.conns = conns
	s.clock.Subscribe(s.conns.sweep)

	return s, nil
}

// State returns the supervisor's current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Options returns a copy of the supervisor's immutable settings.
func (s *Supervisor) Options() Options {
	return s.opts
}

// Logger returns the supervisor's logger.
func (s *Supervisor) Logger() *slog.Logger {
	return s.log
}

// Clock returns the supervisor's shared coarse clock.
func (s *Supervisor) Clock() *TimeReference {
	return s.clock
}

// ErrorHandler returns the configured error page renderer.
func (s *Supervisor) ErrorHandler() ErrorHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errHandler
}

// Attach adds an observer to the set receiving lifecycle callbacks.
// Attaching the same observer twice is a no-op. It fails with an
// [InvalidStateError] unless the supervisor is Stopped.
func (s *Supervisor) Attach(o Observer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return InvalidStateError{Op: "attach", State: s.state}
	}
	s.observers = appendObserver(s.observers, o)
	return nil
}

// SetDriverFactory replaces the driver factory. It fails with an
// [InvalidStateError] unless the supervisor is Stopped.
func (s *Supervisor) SetDriverFactory(f DriverFactory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return InvalidStateError{Op: "set driver factory", State: s.state}
	}
	s.driverFactory = f
	return nil
}

// SetErrorHandler replaces the error page renderer. It fails with an
// [InvalidStateError] unless the supervisor is Stopped.
func (s *Supervisor) SetErrorHandler(h ErrorHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Stopped {
		return InvalidStateError{Op: "set error handler", State: s.state}
	}
	s.errHandler = h
	return nil
}

// Start drives the supervisor from Stopped to Started. It returns only
// after every observer's OnStart has completed and every listener has
// an accept watcher installed.
//
// If any observer fails to start, the full shutdown sequence runs so
// observers which did start are stopped again, and Start returns a
// [StartupError] wrapping the first failure.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Stopped {
		defer s.mu.Unlock()
		return InvalidStateError{Op: "start", State: s.state}
	}

	// The observer set is rebuilt every cycle: the shared clock, the
	// driver factory and the responder (the latter two if observer
	// capable) join first so they are present in the first fan-out.
	cycle := make([]Observer, 0, len(s.observers)+3)
	cycle = appendObserver(cycle, s.clock)
	if o, ok := s.driverFactory.(Observer); ok {
		cycle = appendObserver(cycle, o)
	}
	if o, ok := s.responder.(Observer); ok {
		cycle = appendObserver(cycle, o)
	}
	for _, o := range s.observers {
		cycle = appendObserver(cycle, o)
	}
	s.cycle = cycle
	s.state = Starting
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Supervisor.Start")
	defer span.End()

	g := new(errgroup.Group)
	for _, o := range cycle {
		o := o
		g.Go(func() error {
			return o.OnStart(ctx, s)
		})
	}
	err := g.Wait()
	if err != nil {
		s.shutdown(context.WithoutCancel(ctx))
		return StartupError{Cause: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Started

	s.negotiateProtocols(ctx)

	serveCtx, cancel := context.WithCancel(context.Background())
	s.serveCancel = cancel
	for _, bl := range s.listeners {
		ln := bl.ln
		if cfg := bl.TLSConfig(); cfg != nil {
			ln = tls.NewListener(ln, cfg)
		}
		s.accepting.Add(1)
		go s.serve(serveCtx, ln)
	}
	return nil
}

// negotiateProtocols applies the driver factory's ALPN protocol list to
// every TLS listener. Called with s.mu held, after observers have
// started and before accept watchers are installed.
func (s *Supervisor) negotiateProtocols(ctx context.Context) {
	protos := s.driverFactory.ApplicationProtocols()
	if len(protos) == 0 {
		return
	}

	for _, bl := range s.listeners {
		cfg := bl.TLSConfig()
		if cfg == nil {
			continue
		}
		cfg.NextProtos = slices.Clone(protos)
		s.log.DebugContext(ctx, "set alpn protocols on listener",
			slog.String("addr", bl.ln.Addr().String()),
			slog.Any("protocols", protos),
		)
	}
}

// Stop drives the supervisor from Started to Stopped: accept watchers
// are cancelled first so no new connections are admitted, then observer
// OnStop runs, then every active client is closed.
//
// Stop waits at most the configured shutdown timeout. On deadline it
// returns a [ShutdownTimeoutError] while the shutdown continues in the
// background until the supervisor reaches Stopped. Stopping an already
// Stopped supervisor is a no-op; stopping while Starting or Stopping
// fails with an [InvalidStateError].
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case Stopped:
		s.mu.Unlock()
		return nil
	case Starting, Stopping:
		defer s.mu.Unlock()
		return InvalidStateError{Op: "stop", State: s.state}
	}
	// Transition here so a concurrent Stop observes Stopping and is
	// rejected instead of racing a second shutdown.
	s.state = Stopping
	s.mu.Unlock()

	ctx, span := s.tracer.Start(ctx, "Supervisor.Stop")
	defer span.End()

	done := make(chan error, 1)
	go func() {
		done <- s.shutdown(context.WithoutCancel(ctx))
	}()

	timer := time.NewTimer(s.opts.ShutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return ShutdownTimeoutError{Duration: s.opts.ShutdownTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// shutdown runs the full shutdown sequence. It is entered from Stop
// and from a failed Start, and always leaves the supervisor Stopped.
func (s *Supervisor) shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.state = Stopping
	cycle := s.cycle
	s.cycle = nil
	listeners := s.listeners
	s.listeners = nil
	cancel := s.serveCancel
	s.serveCancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, bl := range listeners {
		bl.ln.Close()
	}
	s.accepting.Wait()

	// Observer failures are captured, never fatal: clients still get
	// closed and the state machine still reaches Stopped.
	var once sync.Once
	var stopErr error
	var wg sync.WaitGroup
	for _, o := range cycle {
		wg.Add(1)
		go func(o Observer) {
			defer wg.Done()
			err := o.OnStop(ctx, s)
			if err != nil {
				once.Do(func() {
					stopErr = err
				})
			}
		}(o)
	}
	wg.Wait()

	s.conns.closeAll()

	s.mu.Lock()
	s.state = Stopped
	s.mu.Unlock()

	if stopErr != nil {
		return ShutdownError{Cause: stopErr}
	}
	return nil
}

// appendObserver adds o to set unless it is already a member.
// Membership is by identity, not equality.
func appendObserver(set []Observer, o Observer) []Observer {
	for _, x := range set {
		if x == o {
			return set
		}
	}
	return append(set, o)
}
