package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"parking-gate-backend/internal/actuator"
	"parking-gate-backend/internal/notification"
)

type recordingGateway struct {
	mu       sync.Mutex
	commands []actuator.Command
	err      error
	wg       *sync.WaitGroup
}

func (g *recordingGateway) Send(ctx context.Context, cmd actuator.Command) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return errors.New("missing deadline")
	}
	g.commands = append(g.commands, cmd)
	if g.wg != nil {
		g.wg.Done()
	}
	return g.err
}

type recordingSink struct {
	mu      sync.Mutex
	notices []notification.Notice
	err     error
}

func (s *recordingSink) Notify(ctx context.Context, n notification.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, n)
	return s.err
}

func TestPool_DispatchSplitsCommandsAndNotices(t *testing.T) {
	p := NewPool(1, 4, time.Second, &recordingGateway{}, &recordingSink{}, zap.NewNop())

	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	p.Dispatch([]Effect{
		Send(actuator.Open(actuator.GateEntry)),
		Notify(notification.CountUpdate(at, 1, 10, "entry")),
		Send(actuator.Display("LIBRE:9")),
	})

	require.Len(t, p.Commands(), 1)
	require.Len(t, p.Notices(), 1)
	commands := <-p.Commands()
	require.Len(t, commands, 2)
	assert.Equal(t, actuator.KindOpen, commands[0].Command.Kind)
	assert.Equal(t, actuator.KindDisplay, commands[1].Command.Kind)
	notices := <-p.Notices()
	require.Len(t, notices, 1)
	assert.Equal(t, notification.KindCountUpdate, notices[0].Notice.Kind)
}

func TestPool_DispatchNeverBlocks(t *testing.T) {
	p := NewPool(1, 1, time.Second, &recordingGateway{}, nil, zap.NewNop())

	p.Dispatch([]Effect{Send(actuator.Open(actuator.GateEntry))})
	p.Dispatch([]Effect{Send(actuator.Open(actuator.GateExit))})
	p.Dispatch(nil)

	assert.Len(t, p.Commands(), 1)
	assert.Empty(t, p.Notices())
}

// slowGateway stalls on one display text so a concurrent consumer would overtake it.
type slowGateway struct {
	recordingGateway
	slowText string
}

func (g *slowGateway) Send(ctx context.Context, cmd actuator.Command) error {
	if cmd.Kind == actuator.KindDisplay && cmd.Text == g.slowText {
		time.Sleep(50 * time.Millisecond)
	}
	return g.recordingGateway.Send(ctx, cmd)
}

func TestPool_CommandsKeepStepOrderAcrossWorkers(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	gw := &slowGateway{recordingGateway: recordingGateway{wg: &wg}, slowText: "LIBRE:2"}
	p := NewPool(4, 8, time.Second, gw, &recordingSink{}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	p.Dispatch([]Effect{Send(actuator.Display("LIBRE:2"))})
	p.Dispatch([]Effect{Send(actuator.Display("LIBRE:1"))})
	p.Dispatch([]Effect{Send(actuator.Display("COMPLET"))})
	wg.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []actuator.Command{
		actuator.Display("LIBRE:2"),
		actuator.Display("LIBRE:1"),
		actuator.Display("COMPLET"),
	}, gw.commands)
}

func TestPool_WorkerKeepsBatchOrder(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(3)
	gw := &recordingGateway{wg: &wg}
	sink := &recordingSink{}
	p := NewPool(1, 4, time.Second, gw, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)

	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	p.Dispatch([]Effect{
		Send(actuator.Open(actuator.GateEntry)),
		Notify(notification.CountUpdate(at, 1, 10, "entry")),
		Send(actuator.Display("LIBRE:9")),
		Send(actuator.PaymentAck()),
	})
	wg.Wait()

	gw.mu.Lock()
	defer gw.mu.Unlock()
	assert.Equal(t, []actuator.Command{
		actuator.Open(actuator.GateEntry),
		actuator.Display("LIBRE:9"),
		actuator.PaymentAck(),
	}, gw.commands)

	// notices run on their own workers
	require.Eventually(t, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return len(sink.notices) == 1 && sink.notices[0].Kind == notification.KindCountUpdate
	}, time.Second, 5*time.Millisecond)
}

func TestPool_FailuresAreSwallowed(t *testing.T) {
	gw := &recordingGateway{err: errors.New("controller offline")}
	sink := &recordingSink{err: errors.New("push service down")}
	p := NewPool(1, 1, 50*time.Millisecond, gw, sink, zap.NewNop())

	at := time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)
	assert.NotPanics(t, func() {
		p.Deliver(context.Background(), []Effect{
			Send(actuator.Open(actuator.GateExit)),
			Notify(notification.EnrollCaptured(at, "04A1B2C3")),
			Send(actuator.PaymentAck()),
		})
	})

	assert.Len(t, gw.commands, 2, "a failed command must not stop the rest of the batch")
	assert.Len(t, sink.notices, 1)
}
