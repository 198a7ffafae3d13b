package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/notification"
)

// Effect is one side effect produced by a committed reconciliation step: either an actuator command
// or a dashboard notice.
type Effect struct {
	Command *actuator.Command
	Notice  *notification.Notice
}

// Send wraps an actuator command.
func Send(cmd actuator.Command) Effect {
	return Effect{Command: &cmd}
}

// Notify wraps a dashboard notice.
func Notify(n notification.Notice) Effect {
	return Effect{Notice: &n}
}

// Pool delivers the effects of committed steps. Controller commands go through a single consumer so
// they reach the gate in step order (a later display text must never be overwritten by an older one).
// Notices fan out over size workers since their order does not matter.
type Pool struct {
	size     int
	commands chan []Effect
	notices  chan []Effect
	gateway  actuator.Gateway
	sink     notification.Sink
	timeout  time.Duration
	log      *zap.Logger
}

// NewPool creates a new worker pool. A nil sink drops notices.
func NewPool(size, queueSize int, timeout time.Duration, gateway actuator.Gateway, sink notification.Sink, log *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if queueSize <= 0 {
		queueSize = size
	}
	return &Pool{
		size:     size,
		commands: make(chan []Effect, queueSize),
		notices:  make(chan []Effect, queueSize),
		gateway:  gateway,
		sink:     sink,
		timeout:  timeout,
		log:      log.With(zap.String("component", "dispatch")),
	}
}

// Start launches the command consumer and the notice workers.
func (p *Pool) Start(ctx context.Context) {
	go p.worker(ctx, "commands", 0, p.commands)
	for i := 0; i < p.size; i++ {
		go p.worker(ctx, "notices", i, p.notices)
	}
}

func (p *Pool) worker(ctx context.Context, queue string, id int, jobs <-chan []Effect) {
	p.log.Debug("worker started", zap.String("queue", queue), zap.Int("worker", id))
	for {
		select {
		case batch := <-jobs:
			p.Deliver(ctx, batch)
		case <-ctx.Done():
			p.log.Debug("worker shutting down", zap.String("queue", queue), zap.Int("worker", id))
			return
		}
	}
}

// Dispatch splits a batch into its commands and its notices and queues both without blocking.
// When a queue is full its part is dropped: commands are idempotent and the next event re-sends
// the current state.
func (p *Pool) Dispatch(effects []Effect) {
	var commands, notices []Effect
	for _, eff := range effects {
		switch {
		case eff.Command != nil:
			commands = append(commands, eff)
		case eff.Notice != nil:
			notices = append(notices, eff)
		}
	}
	p.enqueue(p.commands, "commands", commands)
	p.enqueue(p.notices, "notices", notices)
}

func (p *Pool) enqueue(jobs chan []Effect, queue string, batch []Effect) {
	if len(batch) == 0 {
		return
	}
	select {
	case jobs <- batch:
	default:
		p.log.Warn("effect queue full, dropping batch", zap.String("queue", queue), zap.Int("effects", len(batch)))
	}
}

// Commands returns the command queue for testing.
func (p *Pool) Commands() chan []Effect {
	return p.commands
}

// Notices returns the notice queue for testing.
func (p *Pool) Notices() chan []Effect {
	return p.notices
}

// Deliver runs a batch synchronously. Every effect gets its own timeout and failures are
// logged, never returned.
func (p *Pool) Deliver(ctx context.Context, batch []Effect) {
	for _, eff := range batch {
		p.deliver(ctx, eff)
	}
}

func (p *Pool) deliver(ctx context.Context, eff Effect) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	switch {
	case eff.Command != nil:
		if p.gateway == nil {
			return
		}
		if err := p.gateway.Send(ctx, *eff.Command); err != nil {
			p.log.Warn("actuator command failed", zap.Stringer("command", eff.Command), zap.Error(err))
		}
	case eff.Notice != nil:
		if p.sink == nil {
			return
		}
		if err := p.sink.Notify(ctx, *eff.Notice); err != nil {
			p.log.Warn("notification failed",
				zap.String("kind", string(eff.Notice.Kind)),
				zap.String("notice_id", eff.Notice.ID),
				zap.Error(err))
		}
	}
}
