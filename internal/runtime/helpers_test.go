package runtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/cmdflow/internal/runtime/config"
	"github.com/drblury/cmdflow/internal/runtime/diagnostics"
	"github.com/drblury/cmdflow/internal/runtime/engine"
	errspkg "github.com/drblury/cmdflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/cmdflow/internal/runtime/logging"
	"github.com/drblury/cmdflow/internal/runtime/state"
)

type fakeLink struct {
	dest engine.Destination
}

func (l *fakeLink) Destination() engine.Destination { return l.dest }

// fakeEngine is a scriptable protocol engine. Statuses and put errors are
// consumed one per PutMessage; once exhausted, puts succeed with
// StatusAccepted.
type fakeEngine struct {
	mu sync.Mutex

	putErrs   []error
	statuses  []engine.TrackerStatus
	status    engine.TrackerStatus
	condition string
	sent      []*engine.Message
	putCalls  int
	putPanic  any
	putBlock  chan struct{}
	// afterPut hooks run one per PutMessage, outside the lock.
	afterPut []func()

	subscribeErr error
	linkUp       bool
	linkErr      error
	links        map[string]*fakeLink
	closeErr     error

	selected    *fakeLink
	inbox       map[string][]*engine.Message
	unconfirmed map[string]int
	accepted    int
	settled     int
	checks      int
	polls       int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		linkUp:      true,
		links:       make(map[string]*fakeLink),
		inbox:       make(map[string][]*engine.Message),
		unconfirmed: make(map[string]int),
	}
}

func (e *fakeEngine) PutMessage(ctx context.Context, msg *engine.Message, _ engine.QoS) error {
	e.mu.Lock()
	e.putCalls++
	block, panicValue := e.putBlock, e.putPanic
	var err error
	if len(e.putErrs) > 0 {
		err, e.putErrs = e.putErrs[0], e.putErrs[1:]
	}
	if err == nil {
		e.sent = append(e.sent, msg)
		e.status = engine.StatusAccepted
		if len(e.statuses) > 0 {
			e.status, e.statuses = e.statuses[0], e.statuses[1:]
		}
	}
	var after func()
	if len(e.afterPut) > 0 {
		after, e.afterPut = e.afterPut[0], e.afterPut[1:]
	}
	e.mu.Unlock()

	if after != nil {
		after()
	}

	if panicValue != nil {
		panic(panicValue)
	}
	if block != nil {
		<-block
	}
	return err
}

func (e *fakeEngine) OutboundPending() bool { return false }

func (e *fakeEngine) TrackerStatus() engine.TrackerStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

func (e *fakeEngine) TrackerConditionDescription(fallback string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.condition != "" {
		return e.condition
	}
	return fallback
}

func (e *fakeEngine) CreateSubscription(_ context.Context, dest engine.Destination) (engine.Link, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subscribeErr != nil {
		return nil, e.subscribeErr
	}
	link := &fakeLink{dest: dest}
	e.links[dest.Key()] = link
	return link, nil
}

func (e *fakeEngine) LinkUp(engine.Link) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.linkUp, e.linkErr
}

func (e *fakeEngine) CloseLink(_ context.Context, dest engine.Destination, _ time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closeErr != nil {
		return e.closeErr
	}
	if _, ok := e.links[dest.Key()]; !ok {
		return &errspkg.UnsubscribedError{Topic: dest.Topic}
	}
	delete(e.links, dest.Key())
	return nil
}

func (e *fakeEngine) CheckForOutOfSequenceMessages() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.checks++
	return nil
}

func (e *fakeEngine) OpenForMessage(dest engine.Destination) engine.Link {
	e.mu.Lock()
	defer e.mu.Unlock()
	link, ok := e.links[dest.Key()]
	if !ok {
		return nil
	}
	e.selected = link
	return link
}

func (e *fakeEngine) HasMessage() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.polls++
	return e.selected != nil && len(e.inbox[e.selected.dest.Key()]) > 0
}

func (e *fakeEngine) DrainMessage(engine.Link) bool { return e.HasMessage() }

func (e *fakeEngine) CollectMessage() (*engine.Message, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.selected == nil {
		return nil, &errspkg.ProtocolStateError{Err: engine.ErrNoDelivery}
	}
	key := e.selected.dest.Key()
	queued := e.inbox[key]
	if len(queued) == 0 {
		return nil, &errspkg.ProtocolStateError{Err: engine.ErrNoDelivery}
	}
	e.inbox[key] = queued[1:]
	e.unconfirmed[key]++
	return queued[0], nil
}

func (e *fakeEngine) Accept(link engine.Link) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.accepted++
	e.unconfirmed[link.Destination().Key()]--
	return nil
}

func (e *fakeEngine) Settle(link engine.Link) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := link.Destination().Key()
	if e.unconfirmed[key] == 0 {
		return engine.ErrNoDelivery
	}
	e.settled++
	e.unconfirmed[key]--
	return nil
}

// enqueue makes msg available on dest's link.
func (e *fakeEngine) enqueue(dest engine.Destination, msg *engine.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox[dest.Key()] = append(e.inbox[dest.Key()], msg)
}

func (e *fakeEngine) sentTopics() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	topics := make([]string, 0, len(e.sent))
	for _, msg := range e.sent {
		topics = append(topics, msg.Topic)
	}
	return topics
}

func (e *fakeEngine) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.putCalls
}

func (e *fakeEngine) reconciles() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checks
}

func (e *fakeEngine) messagePolls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.polls
}

func (e *fakeEngine) counts() (accepted, settled int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.accepted, e.settled
}

var _ engine.Engine = (*fakeEngine)(nil)

// recordingReporter keeps every diagnostics record.
type recordingReporter struct {
	mu      sync.Mutex
	records []diagnostics.Record
}

func (r *recordingReporter) Report(rec diagnostics.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

func (r *recordingReporter) tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	tags := make([]string, 0, len(r.records))
	for _, rec := range r.records {
		tags = append(tags, rec.Tag)
	}
	return tags
}

func testConfig() *configpkg.Config {
	return &configpkg.Config{
		Transport:        "channel",
		PollInterval:     time.Millisecond,
		LinkPollInterval: 5 * time.Millisecond,
		JoinTimeout:      500 * time.Millisecond,
		ForceGrace:       50 * time.Millisecond,
	}
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	engine     *fakeEngine
	state      *state.Cell
	reporter   *recordingReporter
}

// newTestDispatcher builds a dispatcher over a fake engine in the Started
// state. Pass start=false to inspect the queue without a worker.
func newTestDispatcher(t *testing.T, conf *configpkg.Config, start bool, hooks ...RequestHooks) *dispatcherFixture {
	t.Helper()
	if conf == nil {
		conf = testConfig()
	}
	f := &dispatcherFixture{
		engine:   newFakeEngine(),
		state:    state.NewCell(state.Started),
		reporter: &recordingReporter{},
	}
	var merged RequestHooks
	for _, h := range hooks {
		merged = merged.Merge(h)
	}
	d, err := NewDispatcher(conf, loggingpkg.NopLogger(), DispatcherDependencies{
		Engine:   f.engine,
		State:    f.state,
		Reporter: f.reporter,
		Hooks:    merged,
	})
	require.NoError(t, err)
	f.dispatcher = d
	if start {
		require.NoError(t, d.Start())
	}
	t.Cleanup(func() { _ = d.Join() })
	return f
}

func (f *dispatcherFixture) send(ctx context.Context, topic string, timeout time.Duration) Result {
	msg := engine.NewMessage(topic, []byte(`{"ok":true}`), nil)
	return f.dispatcher.Do(ctx, NewRequest(SendOperation{Message: msg, QoS: engine.AtLeastOnce}, timeout))
}

func (f *dispatcherFixture) subscribe(t *testing.T, dest engine.Destination) {
	t.Helper()
	res := f.dispatcher.Do(context.Background(), NewRequest(SubscribeOperation{Destination: dest}, time.Second))
	require.NoError(t, res.Err)
}
