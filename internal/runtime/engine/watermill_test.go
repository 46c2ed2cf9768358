package engine

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmderrors "github.com/drblury/cmdflow/internal/runtime/errors"
	"github.com/drblury/cmdflow/internal/runtime/metadata"
)

const eventually = 2 * time.Second

func newChannelEngine(t *testing.T) *WatermillEngine {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	eng, err := NewWatermillEngine(pubSub, pubSub, nil, WithDrainWait(200*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func attachLink(t *testing.T, eng *WatermillEngine, dest Destination) Link {
	t.Helper()
	link, err := eng.CreateSubscription(context.Background(), dest)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		up, err := eng.LinkUp(link)
		return up && err == nil
	}, eventually, 5*time.Millisecond)
	return link
}

func TestNewWatermillEngineRequiresTransport(t *testing.T) {
	_, err := NewWatermillEngine(nil, nil, nil)
	assert.Error(t, err)
}

func TestWatermillEngineSendAndReceive(t *testing.T) {
	eng := newChannelEngine(t)
	dest := Destination{Topic: "orders", QoS: AtLeastOnce}
	link := attachLink(t, eng, dest)

	msg := NewMessage("orders", []byte("hello"), metadata.New("tenant", "acme"))
	msg.TTL = 3 * time.Second
	require.NoError(t, eng.PutMessage(context.Background(), msg, AtLeastOnce))

	require.Eventually(t, func() bool {
		return !eng.OutboundPending() && eng.TrackerStatus() == StatusAccepted
	}, eventually, 5*time.Millisecond)

	opened := eng.OpenForMessage(dest)
	require.NotNil(t, opened)
	assert.Equal(t, link, opened)

	require.Eventually(t, eng.HasMessage, eventually, 5*time.Millisecond)
	got, err := eng.CollectMessage()
	require.NoError(t, err)
	assert.Equal(t, msg.ID, got.ID)
	assert.Equal(t, "orders", got.Topic)
	assert.Equal(t, []byte("hello"), got.Payload)
	assert.Equal(t, "acme", got.Properties.Get("tenant"))
	assert.Equal(t, "at-least-once", got.Properties.Get(metadata.KeyQoS))
	assert.Equal(t, 3*time.Second, got.TTL)

	require.NoError(t, eng.Settle(link))
	assert.ErrorIs(t, eng.Accept(link), ErrNoDelivery)
}

func TestWatermillEngineDrainMessage(t *testing.T) {
	eng := newChannelEngine(t)
	dest := Destination{Topic: "late"}
	link := attachLink(t, eng, dest)
	require.NotNil(t, eng.OpenForMessage(dest))
	assert.False(t, eng.HasMessage())

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = eng.PutMessage(context.Background(), NewMessage("late", []byte("x"), nil), AtMostOnce)
	}()

	assert.True(t, eng.DrainMessage(link))
	assert.True(t, eng.HasMessage())
}

func TestWatermillEngineCollectWithoutMessage(t *testing.T) {
	eng := newChannelEngine(t)
	_, err := eng.CollectMessage()
	assert.True(t, cmderrors.IsProtocolState(err))
}

func TestWatermillEngineUnknownLink(t *testing.T) {
	eng := newChannelEngine(t)
	assert.Nil(t, eng.OpenForMessage(Destination{Topic: "nope"}))

	var unsubscribed *cmderrors.UnsubscribedError
	assert.ErrorAs(t, eng.CloseLink(context.Background(), Destination{Topic: "nope"}, 0), &unsubscribed)

	_, err := eng.LinkUp(fakeLink{})
	assert.Error(t, err)
}

func TestWatermillEngineCloseLink(t *testing.T) {
	eng := newChannelEngine(t)
	dest := Destination{Topic: "orders", Share: "workers"}
	attachLink(t, eng, dest)

	require.NoError(t, eng.CloseLink(context.Background(), dest, 0))
	assert.Nil(t, eng.OpenForMessage(dest))

	again, err := eng.CreateSubscription(context.Background(), dest)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestWatermillEngineSubscriptionIsIdempotent(t *testing.T) {
	eng := newChannelEngine(t)
	dest := Destination{Topic: "orders"}
	first := attachLink(t, eng, dest)
	second, err := eng.CreateSubscription(context.Background(), dest)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestWatermillEngineValidation(t *testing.T) {
	eng := newChannelEngine(t)
	assert.ErrorIs(t, eng.PutMessage(context.Background(), nil, AtMostOnce), cmderrors.ErrMessageRequired)

	var validation *cmderrors.ValidationError
	assert.ErrorAs(t, eng.PutMessage(context.Background(), &Message{}, AtMostOnce), &validation)

	_, err := eng.CreateSubscription(context.Background(), Destination{})
	assert.ErrorIs(t, err, cmderrors.ErrTopicRequired)
}

func TestWatermillEngineNotify(t *testing.T) {
	eng := newChannelEngine(t)
	require.NoError(t, eng.PutMessage(context.Background(), NewMessage("t", nil, nil), AtLeastOnce))

	select {
	case <-eng.Notify():
	case <-time.After(eventually):
		t.Fatal("expected a completion signal")
	}
}

func TestWatermillEngineClosed(t *testing.T) {
	eng := newChannelEngine(t)
	require.NoError(t, eng.Close())
	require.NoError(t, eng.Close())

	err := eng.PutMessage(context.Background(), NewMessage("t", nil, nil), AtLeastOnce)
	assert.True(t, cmderrors.IsRetryable(err))
	assert.ErrorIs(t, err, ErrEngineClosed)

	_, err = eng.CreateSubscription(context.Background(), Destination{Topic: "t"})
	assert.True(t, cmderrors.IsRetryable(err))
}

type failingPublisher struct {
	err error
}

func (p failingPublisher) Publish(string, ...*message.Message) error { return p.err }
func (p failingPublisher) Close() error                              { return nil }

type fakeLink struct{}

func (fakeLink) Destination() Destination { return Destination{} }

func TestWatermillEnginePublishOutcome(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		qos           QoS
		wantStatus    TrackerStatus
		wantCondition string
	}{
		{name: "connection refused aborts", err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, qos: AtLeastOnce, wantStatus: StatusAborted, wantCondition: "fallback"},
		{name: "network error aborts", err: cmderrors.NewNetworkError(errors.New("link detached")), qos: AtLeastOnce, wantStatus: StatusAborted, wantCondition: "fallback"},
		{name: "broker refusal rejects", err: errors.New("queue full"), qos: AtLeastOnce, wantStatus: StatusRejected, wantCondition: "queue full"},
		{name: "at-most-once stays settled", err: errors.New("queue full"), qos: AtMostOnce, wantStatus: StatusSettled, wantCondition: "fallback"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
			eng, err := NewWatermillEngine(failingPublisher{err: tt.err}, sub, watermill.NopLogger{})
			require.NoError(t, err)
			t.Cleanup(func() { _ = eng.Close() })

			require.NoError(t, eng.PutMessage(context.Background(), NewMessage("t", nil, nil), tt.qos))
			require.Eventually(t, func() bool { return !eng.OutboundPending() }, eventually, 5*time.Millisecond)

			assert.Equal(t, tt.wantStatus, eng.TrackerStatus())
			assert.Equal(t, tt.wantCondition, eng.TrackerConditionDescription("fallback"))
		})
	}
}

// gatedPublisher blocks the first publish until release is closed and
// rejects every later one.
type gatedPublisher struct {
	release chan struct{}
	mu      sync.Mutex
	calls   int
}

func (p *gatedPublisher) Publish(string, ...*message.Message) error {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	if n == 1 {
		<-p.release
		return nil
	}
	return errors.New("broker rejected")
}

func (p *gatedPublisher) Close() error { return nil }

func TestWatermillEngineTracksEachSend(t *testing.T) {
	pub := &gatedPublisher{release: make(chan struct{})}
	sub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	eng, err := NewWatermillEngine(pub, sub, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	require.NoError(t, eng.PutMessage(context.Background(), NewMessage("orders", []byte("a"), nil), AtLeastOnce))
	assert.True(t, eng.OutboundPending())
	assert.Equal(t, StatusPending, eng.TrackerStatus())

	// the first publish is still blocked; the second send has its own tracker
	require.NoError(t, eng.PutMessage(context.Background(), NewMessage("orders", []byte("b"), nil), AtLeastOnce))
	require.Eventually(t, func() bool {
		return !eng.OutboundPending() && eng.TrackerStatus() == StatusRejected
	}, eventually, 5*time.Millisecond)
	assert.Equal(t, "broker rejected", eng.TrackerConditionDescription("fallback"))

	close(pub.release)
	assert.Never(t, func() bool {
		return eng.TrackerStatus() != StatusRejected || eng.OutboundPending()
	}, 100*time.Millisecond, 5*time.Millisecond)
}

func TestWatermillEngineTrackerStartsEmpty(t *testing.T) {
	eng := newChannelEngine(t)
	assert.False(t, eng.OutboundPending())
	assert.Equal(t, StatusNone, eng.TrackerStatus())
	assert.Equal(t, "fallback", eng.TrackerConditionDescription("fallback"))
}

// scriptedSubscriber answers the first Subscribe calls from script and
// delegates the rest to next.
type scriptedSubscriber struct {
	mu     sync.Mutex
	calls  int
	script []func() (<-chan *message.Message, error)
	next   message.Subscriber
}

func (s *scriptedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	s.calls++
	n := s.calls
	s.mu.Unlock()
	if n <= len(s.script) {
		return s.script[n-1]()
	}
	return s.next.Subscribe(ctx, topic)
}

func (s *scriptedSubscriber) Close() error { return s.next.Close() }

func (s *scriptedSubscriber) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func failWith(err error) func() (<-chan *message.Message, error) {
	return func() (<-chan *message.Message, error) { return nil, err }
}

func newScriptedEngine(t *testing.T, script ...func() (<-chan *message.Message, error)) (*WatermillEngine, *scriptedSubscriber, *gochannel.GoChannel) {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 16}, watermill.NopLogger{})
	sub := &scriptedSubscriber{script: script, next: pubSub}
	eng, err := NewWatermillEngine(pubSub, sub, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng, sub, pubSub
}

func awaitLinkError(t *testing.T, eng *WatermillEngine, link Link) error {
	t.Helper()
	var linkErr error
	require.Eventually(t, func() bool {
		_, linkErr = eng.LinkUp(link)
		return linkErr != nil
	}, eventually, 5*time.Millisecond)
	return linkErr
}

func TestWatermillEngineFailedSubscriptionIsReplaced(t *testing.T) {
	eng, sub, _ := newScriptedEngine(t, failWith(errors.New("access denied")))
	dest := Destination{Topic: "orders"}

	first, err := eng.CreateSubscription(context.Background(), dest)
	require.NoError(t, err)
	assert.EqualError(t, awaitLinkError(t, eng, first), "access denied")

	second := attachLink(t, eng, dest)
	assert.NotSame(t, first, second)
	assert.Equal(t, 2, sub.Calls())
	assert.Equal(t, second, eng.OpenForMessage(dest))
}

func TestWatermillEngineReconnect(t *testing.T) {
	t.Run("drops links that never attached", func(t *testing.T) {
		eng, sub, _ := newScriptedEngine(t, failWith(syscall.ECONNREFUSED))
		dest := Destination{Topic: "orders"}

		link, err := eng.CreateSubscription(context.Background(), dest)
		require.NoError(t, err)
		assert.True(t, cmderrors.IsRetryable(awaitLinkError(t, eng, link)))

		require.NoError(t, eng.Reconnect(context.Background()))
		assert.Nil(t, eng.OpenForMessage(dest))
		assert.Equal(t, 1, sub.Calls())

		attachLink(t, eng, dest)
		assert.Equal(t, 2, sub.Calls())
	})

	t.Run("re-attaches closed subscriptions", func(t *testing.T) {
		stream := make(chan *message.Message)
		eng, sub, pubSub := newScriptedEngine(t, func() (<-chan *message.Message, error) { return stream, nil })
		dest := Destination{Topic: "orders"}

		link := attachLink(t, eng, dest)
		require.Equal(t, link, eng.OpenForMessage(dest))
		close(stream)
		assert.False(t, eng.HasMessage())
		assert.True(t, cmderrors.IsRetryable(awaitLinkError(t, eng, link)))

		require.NoError(t, eng.Reconnect(context.Background()))
		assert.Equal(t, 2, sub.Calls())
		up, err := eng.LinkUp(link)
		require.NoError(t, err)
		assert.True(t, up)

		require.NoError(t, pubSub.Publish("orders", message.NewMessage("m-1", []byte("back"))))
		require.Equal(t, link, eng.OpenForMessage(dest))
		require.Eventually(t, eng.HasMessage, eventually, 5*time.Millisecond)
		got, err := eng.CollectMessage()
		require.NoError(t, err)
		assert.Equal(t, []byte("back"), got.Payload)
	})

	t.Run("reports a subscriber that is still down", func(t *testing.T) {
		stream := make(chan *message.Message)
		eng, _, _ := newScriptedEngine(t,
			func() (<-chan *message.Message, error) { return stream, nil },
			failWith(errors.New("broker unavailable")),
		)
		dest := Destination{Topic: "orders"}
		link := attachLink(t, eng, dest)
		require.NotNil(t, eng.OpenForMessage(dest))
		close(stream)
		assert.False(t, eng.HasMessage())
		awaitLinkError(t, eng, link)

		assert.ErrorContains(t, eng.Reconnect(context.Background()), "broker unavailable")
		require.NoError(t, eng.Reconnect(context.Background()))
	})

	t.Run("closed engine", func(t *testing.T) {
		eng := newChannelEngine(t)
		require.NoError(t, eng.Close())
		assert.ErrorIs(t, eng.Reconnect(context.Background()), ErrEngineClosed)
	})
}
