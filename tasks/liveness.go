package tasks

import (
	"fmt"
	"time"

	"github.com/vinayprograms/taskkit/heartbeat"
	"github.com/vinayprograms/taskkit/logging"
	"github.com/vinayprograms/taskkit/router"
)

// AttemptTimeoutHandler turns a liveness timeout of an attempt into a kill
// request and an attempt failure for its task.
type AttemptTimeoutHandler struct {
	poster  router.Poster
	timeout time.Duration
	log     *logging.Logger
}

// NewAttemptTimeoutHandler creates a handler. timeout is only used in the
// diagnostics text.
func NewAttemptTimeoutHandler(poster router.Poster, timeout time.Duration, logger *logging.Logger) *AttemptTimeoutHandler {
	if logger == nil {
		logger = logging.New()
	}
	return &AttemptTimeoutHandler{
		poster:  poster,
		timeout: timeout,
		log:     logger.WithComponent("attempt-liveness"),
	}
}

// OnTimeout is a heartbeat.Policy action.
func (h *AttemptTimeoutHandler) OnTimeout(id AttemptID) {
	diag := fmt.Sprintf("AttemptID:%s Timed out after %d secs", id, int64(h.timeout/time.Second))
	h.log.Info("failing silent attempt", map[string]interface{}{
		"attempt": id.String(),
	})

	if err := h.poster.Post(KillAttempt{AttemptID: id, Reason: diag, Timeout: true}); err != nil {
		h.log.Error("post kill failed", map[string]interface{}{
			"attempt": id.String(),
			"error":   err.Error(),
		})
	}
	ev := NewAttemptEvent(EventAttemptFailed, id)
	ev.Diagnostics = diag
	if err := h.poster.Post(ev); err != nil {
		h.log.Error("post failure failed", map[string]interface{}{
			"attempt": id.String(),
			"error":   err.Error(),
		})
	}
}

// NewAttemptMonitor builds a monitor for attempts whose timeouts are
// reported to poster.
func NewAttemptMonitor(timeout, interval time.Duration, poster router.Poster, logger *logging.Logger, opts ...heartbeat.Option) (*heartbeat.Monitor[AttemptID], error) {
	if logger == nil {
		logger = logging.New()
	}
	h := NewAttemptTimeoutHandler(poster, timeout, logger)
	policy := heartbeat.DefaultPolicy[AttemptID](h.OnTimeout)
	policy.Timeout = timeout
	policy.CheckInterval = interval

	opts = append([]heartbeat.Option{heartbeat.WithLogger(logger)}, opts...)
	return heartbeat.NewMonitor("attempts", policy, opts...)
}
