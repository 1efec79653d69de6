package pipeline

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"neurahome/internal/action"
	"neurahome/internal/listen"
	"neurahome/internal/nlu"
	"neurahome/internal/quota"
	"neurahome/pkg/protocol"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type controller struct {
	srv  *httptest.Server
	msgs chan string
}

func newController(t *testing.T) *controller {
	t.Helper()

	c := &controller{msgs: make(chan string, 32)}
	up := ws.Upgrader{}
	c.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(c.msgs)
				return
			}
			c.msgs <- string(msg)
		}
	}))
	t.Cleanup(c.srv.Close)
	return c
}

func (c *controller) channel(t *testing.T) *protocol.Channel {
	t.Helper()

	ch := protocol.NewChannel(protocol.ChannelConfig{
		Url: "ws" + strings.TrimPrefix(c.srv.URL, "http"),
	})
	require.NoError(t, ch.Open(context.Background()))
	return ch
}

// received drains everything the controller got until the pipeline hung up.
func (c *controller) received(t *testing.T) []string {
	t.Helper()

	var out []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m, ok := <-c.msgs:
			if !ok {
				return out
			}
			out = append(out, m)
		case <-timeout:
			t.Fatal("controller connection never closed")
			return out
		}
	}
}

type stubClassifier struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     int
}

func (s *stubClassifier) Classify(context.Context, string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.calls
	s.calls++
	var (
		resp string
		err  error
	)
	if i < len(s.responses) {
		resp = s.responses[i]
	}
	if i < len(s.errs) {
		err = s.errs[i]
	}
	return resp, err
}

func (s *stubClassifier) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// instantClock never waits, only remembers what it was asked to wait for.
type instantClock struct {
	mu    sync.Mutex
	now   time.Time
	waits []time.Duration
}

func (c *instantClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waits = append(c.waits, d)
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func (c *instantClock) Waits() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.waits...)
}

func newCascade(cls nlu.Classifier, clock quota.Clock) *nlu.Cascade {
	return nlu.NewCascade(
		nlu.NewLocal(action.Categories()),
		nlu.NewRemote(nlu.RemoteConfig{
			Classifier: cls,
			Limiter:    quota.New(quota.DefaultLimit, quota.DefaultWindow, clock),
			Cooldown:   nlu.DefaultCooldown,
			Clock:      clock,
		}),
	)
}

func runLines(t *testing.T, lines string, cls nlu.Classifier, clock quota.Clock) (*Pipeline, []string) {
	t.Helper()

	ctrl := newController(t)
	p := New(Config{
		Source:     listen.NewLineSource(strings.NewReader(lines)),
		Resolver:   newCascade(cls, clock),
		Dispatcher: ctrl.channel(t),
		Clock:      clock,
	})
	require.NoError(t, p.Run(context.Background()))
	return p, ctrl.received(t)
}

func TestLocalUtterancesAreDispatched(t *testing.T) {
	cls := &stubClassifier{}
	p, got := runLines(t, "turn on the lights\nplease darken the lamp\n", cls, &instantClock{})

	assert.Equal(t, []string{"LED ON", "LED OFF"}, got)
	assert.Zero(t, cls.Calls())
	assert.Equal(t, Stopped, p.State())

	st := p.Status().Stats
	assert.Equal(t, uint64(2), st.Heard)
	assert.Equal(t, uint64(2), st.Local)
	assert.Equal(t, uint64(2), st.Dispatched)
}

func TestRemoteFallbackIsDispatched(t *testing.T) {
	cls := &stubClassifier{responses: []string{"FAN ON extra text"}}
	p, got := runLines(t, "make it cozy\n", cls, &instantClock{})

	assert.Equal(t, []string{"FAN ON"}, got)
	assert.Equal(t, 1, cls.Calls())
	assert.Equal(t, uint64(1), p.Status().Stats.Remote)
}

func TestQuotaExhaustionDropsAndContinues(t *testing.T) {
	clock := &instantClock{}
	cls := &stubClassifier{
		responses: []string{"", "FAN ON"},
		errs:      []error{nlu.ErrQuotaExhausted, nil},
	}
	p, got := runLines(t, "make it cozy\nmake it cozy\n", cls, clock)

	assert.Equal(t, []string{"FAN ON"}, got)
	assert.Equal(t, 2, cls.Calls())
	assert.Equal(t, []time.Duration{nlu.DefaultCooldown}, clock.Waits())

	st := p.Status().Stats
	assert.Equal(t, uint64(2), st.Heard)
	assert.Equal(t, uint64(1), st.Unknown)
	assert.Equal(t, uint64(1), st.Dispatched)
}

func TestUnresolvedUtteranceIsAnnounced(t *testing.T) {
	ann := &recordingAnnouncer{}
	disp := &recordingDispatcher{}
	p := New(Config{
		Source:     listen.NewLineSource(strings.NewReader("sing me a song\n")),
		Resolver:   nlu.NewCascade(nlu.NewLocal(action.Categories()), nil),
		Dispatcher: disp,
		Announcer:  ann,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Empty(t, disp.Sent())
	assert.Equal(t, []string{unknownPhrase}, ann.said)
	assert.Equal(t, uint64(1), p.Status().Stats.Unknown)
}

type scriptedSource struct {
	mu    sync.Mutex
	steps []step
}

type step struct {
	text string
	err  error
}

func (s *scriptedSource) Next(ctx context.Context) (listen.Utterance, error) {
	s.mu.Lock()
	if len(s.steps) == 0 {
		s.mu.Unlock()
		<-ctx.Done()
		return listen.Utterance{}, ctx.Err()
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	s.mu.Unlock()

	if st.err != nil {
		return listen.Utterance{}, st.err
	}
	return listen.Utterance{Text: st.text, At: time.Now()}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	sent   []string
	fail   error
	closed int
}

func (d *recordingDispatcher) Send(cmd protocol.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fail != nil {
		return d.fail
	}
	d.sent = append(d.sent, cmd.Wire())
	return nil
}

func (d *recordingDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed++
	return nil
}

func (d *recordingDispatcher) Sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

func (d *recordingDispatcher) Closed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type recordingAnnouncer struct{ said []string }

func (a *recordingAnnouncer) Say(text string) error {
	a.said = append(a.said, text)
	return nil
}

type countingCue struct{ plays int }

func (c *countingCue) Play() error {
	c.plays++
	return errors.New("no audio device")
}

func TestFailuresDoNotStopTheLoop(t *testing.T) {
	clock := &instantClock{}
	src := &scriptedSource{steps: []step{
		{err: listen.ErrNoSpeech},
		{err: listen.ErrUnintelligible},
		{err: errors.Join(listen.ErrUnavailable, errors.New("model crashed"))},
		{text: "fan on"},
		{err: listen.ErrEndOfInput},
	}}
	disp := &recordingDispatcher{}
	cue := &countingCue{}
	p := New(Config{
		Source:     src,
		Resolver:   nlu.NewCascade(nlu.NewLocal(action.Categories()), nil),
		Dispatcher: disp,
		Cue:        cue,
		Clock:      clock,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"FAN ON"}, disp.Sent())
	assert.Equal(t, 1, disp.Closed())
	assert.Equal(t, 5, cue.plays)
	assert.Equal(t, []time.Duration{DefaultRetryDelay}, clock.Waits())

	st := p.Status().Stats
	assert.Equal(t, uint64(2), st.Noise)
	assert.Equal(t, uint64(1), st.Outages)
	assert.Equal(t, uint64(1), st.Dispatched)
}

func TestSendFailureIsCounted(t *testing.T) {
	disp := &recordingDispatcher{fail: protocol.ErrNotConnected}
	p := New(Config{
		Source:     listen.NewLineSource(strings.NewReader("lights off\nfan off\n")),
		Resolver:   nlu.NewCascade(nlu.NewLocal(action.Categories()), nil),
		Dispatcher: disp,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, uint64(2), p.Status().Stats.SendFailures)
	assert.Zero(t, p.Status().Stats.Dispatched)
}

func TestCancelStopsBlockedLoop(t *testing.T) {
	disp := &recordingDispatcher{}
	p := New(Config{
		Source:     &scriptedSource{},
		Resolver:   nlu.NewCascade(nlu.NewLocal(action.Categories()), nil),
		Dispatcher: disp,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.State() == Listening }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
	assert.Equal(t, Stopped, p.State())
	assert.Equal(t, 1, disp.Closed())
	assert.ErrorIs(t, p.Run(ctx), ErrAlreadyRunning)
	assert.Equal(t, 1, disp.Closed())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "listening", Listening.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
