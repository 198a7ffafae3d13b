package actuator

import (
	"context"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

// BreakerSettings tunes the circuit breaker in front of the controller link.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerSettings opens after five consecutive failures and lets a trial request through after 30s.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "gate-controller",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// BreakerGateway stops hammering an unreachable controller. While open, sends fail fast
// with gobreaker.ErrOpenState; commands are idempotent so the next event re-sends them.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[struct{}]
}

func NewBreakerGateway(next Gateway, st BreakerSettings, log *zap.Logger) *BreakerGateway {
	log = log.With(zap.String("component", "actuator"))
	cb := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        st.Name,
		MaxRequests: st.MaxRequests,
		Interval:    st.Interval,
		Timeout:     st.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= st.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	return &BreakerGateway{next: next, cb: cb}
}

func (g *BreakerGateway) Send(ctx context.Context, cmd Command) error {
	_, err := g.cb.Execute(func() (struct{}, error) {
		return struct{}{}, g.next.Send(ctx, cmd)
	})
	return err
}

// State exposes the breaker state for health reporting.
func (g *BreakerGateway) State() gobreaker.State {
	return g.cb.State()
}
