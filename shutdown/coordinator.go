package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/vinayprograms/taskkit/logging"
)

// Coordinator runs registered handlers phase by phase. Handlers in one
// phase run concurrently.
type Coordinator struct {
	config Config
	log    *logging.Logger

	mu       sync.Mutex
	handlers []registration
	once     sync.Once
	err      error
	result   *Result
	done     chan struct{}
	signals  chan os.Signal
}

// NewCoordinator creates a coordinator.
func NewCoordinator(config Config, logger *logging.Logger) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.DefaultPhase == 0 {
		config.DefaultPhase = DefaultConfig().DefaultPhase
	}
	if logger == nil {
		logger = logging.New()
	}

	return &Coordinator{
		config:  config,
		log:     logger.WithComponent("shutdown"),
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}, nil
}

// Register adds a handler in the default phase.
func (c *Coordinator) Register(name string, handler Handler) {
	c.RegisterWithPhase(name, handler, c.config.DefaultPhase)
}

// RegisterWithPhase adds a handler in phase.
func (c *Coordinator) RegisterWithPhase(name string, handler Handler, phase int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, registration{
		name:    name,
		handler: handler,
		phase:   phase,
	})
}

// RegisterFunc registers fn in phase.
func (c *Coordinator) RegisterFunc(name string, fn func(ctx context.Context) error, phase int) {
	c.RegisterWithPhase(name, Func(fn), phase)
}

// Shutdown runs every handler once. Later calls wait for the first one and
// return ErrAlreadyShutdown.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	first := false
	c.once.Do(func() {
		first = true
		c.err = c.run(ctx)
		close(c.done)
	})
	if !first {
		<-c.done
		return ErrAlreadyShutdown
	}
	return c.err
}

// ShutdownWithTimeout runs Shutdown bounded by timeout, or by the
// configured timeout when it is zero.
func (c *Coordinator) ShutdownWithTimeout(timeout time.Duration) error {
	if timeout == 0 {
		timeout = c.config.Timeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return c.Shutdown(ctx)
}

// HandleSignals shuts down on SIGTERM or SIGINT.
func (c *Coordinator) HandleSignals() {
	signal.Notify(c.signals, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		select {
		case sig := <-c.signals:
			c.log.Info("signal received", map[string]interface{}{"signal": sig.String()})
			_ = c.ShutdownWithTimeout(0)
		case <-c.done:
		}
		signal.Stop(c.signals)
	}()
}

// Trigger behaves like a received SIGTERM.
func (c *Coordinator) Trigger() {
	select {
	case c.signals <- syscall.SIGTERM:
	default:
	}
}

// Done is closed when shutdown completes.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Err returns the shutdown error once Done is closed.
func (c *Coordinator) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

// Result returns the detailed result once Done is closed.
func (c *Coordinator) Result() *Result {
	select {
	case <-c.done:
		return c.result
	default:
		return nil
	}
}

func (c *Coordinator) run(ctx context.Context) error {
	start := time.Now()

	c.mu.Lock()
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}
	defer func() {
		result.TotalDuration = time.Since(start)
		c.result = result
	}()

	var failures error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			result.Err = multierr.Append(failures, ErrTimeout)
			return result.Err
		}

		phaseResults := c.runPhase(ctx, group)
		result.Results = append(result.Results, phaseResults...)
		for _, hr := range phaseResults {
			if hr.Err != nil {
				failures = multierr.Append(failures, fmt.Errorf("%s: %w", hr.Name, hr.Err))
			}
		}
		if failures != nil && !c.config.ContinueOnError {
			break
		}
	}

	if failures != nil {
		result.Err = fmt.Errorf("%w: %w", ErrHandlerFailed, failures)
	}
	return result.Err
}

func (c *Coordinator) runPhase(ctx context.Context, handlers []registration) []HandlerResult {
	results := make([]HandlerResult, len(handlers))
	var wg sync.WaitGroup

	for i, reg := range handlers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := invoke(ctx, reg.handler)
			hr := HandlerResult{
				Name:     reg.name,
				Phase:    reg.phase,
				Duration: time.Since(start),
				Err:      err,
			}
			results[i] = hr

			fields := map[string]interface{}{
				"handler":  hr.Name,
				"phase":    hr.Phase,
				"duration": hr.Duration.String(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Warn("handler failed", fields)
			} else {
				c.log.Debug("handler stopped", fields)
			}
			if c.config.OnProgress != nil {
				c.config.OnProgress(hr)
			}
		}()
	}

	wg.Wait()
	return results
}

func invoke(ctx context.Context, h Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("handler panic: %v", p)
		}
	}()
	return h.OnShutdown(ctx)
}

// groupByPhase splits handlers sorted by phase into one group per phase.
func groupByPhase(handlers []registration) [][]registration {
	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
