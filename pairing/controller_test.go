package pairing

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"wabotctl/api"
	"wabotctl/internal/errors"
	"wabotctl/internal/metrics"
	"wabotctl/internal/retry"
	"wabotctl/internal/session"
	"wabotctl/present"
	"wabotctl/util"
)

// ── Fakes ───────────────────────────────────────────────────────────

type streamItem struct {
	ev  api.PairingEvent
	err error
}

type fakeStream struct {
	items     chan streamItem
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeStream() *fakeStream {
	return &fakeStream{items: make(chan streamItem, 16), closed: make(chan struct{})}
}

func (s *fakeStream) Next() (api.PairingEvent, error) {
	select {
	case it := <-s.items:
		return it.ev, it.err
	case <-s.closed:
		return api.PairingEvent{}, errors.ErrStreamClosed
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeStream) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *fakeStream) send(ev api.PairingEvent) { s.items <- streamItem{ev: ev} }
func (s *fakeStream) fail(err error)           { s.items <- streamItem{err: err} }

type fakeService struct {
	mu          sync.Mutex
	verifyErr   error
	initErr     error
	openErr     error
	verifyCalls int
	streams     []*fakeStream
	status      api.Status
	statusErr   error
	statusCalls int
}

func (f *fakeService) Verify(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyErr
}

func (f *fakeService) InitBot(ctx context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initErr
}

func (f *fakeService) Status(ctx context.Context, username string) (api.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	return f.status, f.statusErr
}

func (f *fakeService) OpenPairingStream(ctx context.Context, username string) (Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := newFakeStream()
	f.streams = append(f.streams, s)
	if f.openErr != nil {
		return nil, f.openErr
	}
	return s, nil
}

func (f *fakeService) opens() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.streams)
}

func (f *fakeService) stream(i int) *fakeStream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

func (f *fakeService) set(fn func(f *fakeService)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// ── Helpers ─────────────────────────────────────────────────────────

type harness struct {
	ctrl *Controller
	svc  *fakeService
	sess *session.Context
	rec  *present.Recorder
	m    *metrics.Collector
}

func newHarness(t *testing.T, token string, poll time.Duration, mutate func(*Options)) *harness {
	t.Helper()
	store, err := session.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	sess := session.NewContext(store)
	if token != "" {
		if err := sess.Begin(context.Background(), token, session.User{Username: "alice"}); err != nil {
			t.Fatalf("Begin: %v", err)
		}
	}

	h := &harness{svc: &fakeService{}, sess: sess, rec: &present.Recorder{}, m: metrics.New()}
	opts := Options{
		Service:      h.svc,
		Session:      sess,
		Presenter:    h.rec,
		Metrics:      h.m,
		PollInterval: poll,
		Backoff:      retry.Fixed(10*time.Millisecond, 3),
	}
	if mutate != nil {
		mutate(&opts)
	}
	h.ctrl = New(opts)
	t.Cleanup(h.ctrl.Reset)
	return h
}

func (h *harness) wait(t *testing.T, states ...State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if got, err := h.ctrl.Wait(ctx, states...); err != nil {
		t.Fatalf("waiting for %v: stuck in %v (%+v)", states, got, h.ctrl.Snapshot())
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (h *harness) startAwaiting(t *testing.T) *fakeStream {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	h.wait(t, AwaitingPairing)
	waitFor(t, "stream open", func() bool { return h.svc.opens() >= 1 })
	return h.svc.stream(0)
}

const hour = time.Hour

// ── Start ───────────────────────────────────────────────────────────

func TestStart_RequiresSession(t *testing.T) {
	h := newHarness(t, "", hour, nil)

	err := h.ctrl.Start(context.Background())
	if !errors.Is(err, errors.ErrNotAuthenticated) {
		t.Fatalf("err = %v, want ErrNotAuthenticated", err)
	}
	if h.ctrl.State() != Idle || h.svc.verifyCalls != 0 {
		t.Errorf("state = %v, verify calls = %d", h.ctrl.State(), h.svc.verifyCalls)
	}
}

func TestStart_OpensStreamAndPolling(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	s := h.startAwaiting(t)

	s.send(api.PairingEvent{Status: "waiting", Attempts: 2})
	s.send(api.PairingEvent{QR: "2@code"})
	waitFor(t, "pairing code", func() bool { return h.rec.Count("code:2@code") == 1 })

	snap := h.ctrl.Snapshot()
	if snap.Attempts != 1 || !snap.StreamLive || !snap.Polling {
		t.Errorf("snapshot = %+v", snap)
	}
	if h.rec.Count("instruction:Waiting for pairing code... (attempt 2)") != 1 {
		t.Errorf("missing progress text: %v", h.rec.Events())
	}
	if h.m.PairingCodes() != 1 {
		t.Errorf("pairing codes = %d", h.m.PairingCodes())
	}
}

func TestStart_Busy(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	h.startAwaiting(t)

	if err := h.ctrl.Start(context.Background()); !errors.Is(err, ErrBusy) {
		t.Errorf("second Start err = %v, want ErrBusy", err)
	}
}

func TestStart_VerifyUnauthorized(t *testing.T) {
	invalid := make(chan struct{})
	h := newHarness(t, "T1", hour, func(o *Options) {
		o.OnSessionInvalid = func() { close(invalid) }
	})
	h.svc.verifyErr = errors.ErrUnauthorized

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.wait(t, Errored)
	select {
	case <-invalid:
	case <-time.After(3 * time.Second):
		t.Fatal("session-invalid callback not called")
	}
	if h.svc.opens() != 0 {
		t.Error("no stream may open with a rejected token")
	}

	h.ctrl.ForceLogout(context.Background())
	if h.ctrl.State() != Idle || h.sess.Authenticated() {
		t.Errorf("after forced logout: state %v, authenticated %v", h.ctrl.State(), h.sess.Authenticated())
	}
}

func TestStart_ExpiredTokenSkipsVerify(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
	})
	signed, err := tok.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, signed, hour, nil)

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.wait(t, Errored)
	if h.svc.verifyCalls != 0 {
		t.Errorf("verify calls = %d, want 0", h.svc.verifyCalls)
	}
}

func TestStart_InitAppError(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	h.svc.initErr = errors.App(200, "bot already starting")

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.wait(t, Errored)
	if h.rec.Count("notify:error:bot already starting") != 1 {
		t.Errorf("events = %v", h.rec.Events())
	}
	if snap := h.ctrl.Snapshot(); snap.Polling || snap.StreamLive {
		t.Errorf("nothing should run after a failed init: %+v", snap)
	}
}

// ── Stream retries ──────────────────────────────────────────────────

func TestStreamErrors_ExhaustAfterThree(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	s := h.startAwaiting(t)

	s.fail(io.EOF)
	waitFor(t, "second attempt", func() bool { return h.svc.opens() >= 2 })
	h.svc.stream(1).fail(errors.New("connection reset"))
	waitFor(t, "third attempt", func() bool { return h.svc.opens() >= 3 })
	h.svc.stream(2).fail(io.ErrUnexpectedEOF)
	h.wait(t, Errored)

	time.Sleep(50 * time.Millisecond)
	snap := h.ctrl.Snapshot()
	if snap.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", snap.Attempts)
	}
	if h.svc.opens() != 3 {
		t.Errorf("streams opened = %d, want 3", h.svc.opens())
	}
	if !snap.Polling {
		t.Error("polling must keep running after retries are exhausted")
	}
	if snap.StreamLive {
		t.Error("no stream should be live")
	}
	if h.m.StreamErrors() != 3 {
		t.Errorf("stream errors = %d", h.m.StreamErrors())
	}
}

func TestStreamOpenFailures_Exhaust(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	h.svc.openErr = errors.Wrap("stream", "http://x", errors.New("refused"))

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.wait(t, Errored)
	time.Sleep(50 * time.Millisecond)

	if got := h.svc.opens(); got != 3 {
		t.Errorf("opens = %d, want 3", got)
	}
	if h.ctrl.Snapshot().Attempts != 3 {
		t.Errorf("attempts = %d", h.ctrl.Snapshot().Attempts)
	}
}

func TestFatalEvent_NoRetry(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	s := h.startAwaiting(t)

	s.send(api.PairingEvent{Error: "too many pairing attempts"})
	h.wait(t, Errored)
	time.Sleep(50 * time.Millisecond)

	if h.svc.opens() != 1 {
		t.Errorf("opens = %d, want 1", h.svc.opens())
	}
	snap := h.ctrl.Snapshot()
	if snap.Attempts != 1 || snap.LastError != "too many pairing attempts" {
		t.Errorf("snapshot = %+v", snap)
	}
	if !s.isClosed() {
		t.Error("fatal event must close the stream")
	}
	if h.rec.Count("notify:error:too many pairing attempts") != 1 {
		t.Errorf("events = %v", h.rec.Events())
	}
}

func TestMalformedEvent_KeepsAttempt(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	s := h.startAwaiting(t)

	s.fail(&api.MalformedEventError{Data: "{", Err: errors.New("unexpected end")})
	s.send(api.PairingEvent{QR: "after"})
	waitFor(t, "code after malformed", func() bool { return h.rec.Count("code:after") == 1 })

	if h.svc.opens() != 1 || h.ctrl.Snapshot().Attempts != 1 {
		t.Errorf("malformed payload consumed an attempt: opens=%d %+v", h.svc.opens(), h.ctrl.Snapshot())
	}
	if h.rec.CountPrefix("instruction:Received an unreadable update") != 1 {
		t.Errorf("events = %v", h.rec.Events())
	}
}

func TestRestartFromErrored_ResetsAttempts(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	h.svc.openErr = errors.New("refused")

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	h.wait(t, Errored)

	h.svc.set(func(f *fakeService) { f.openErr = nil })
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	h.wait(t, AwaitingPairing)
	waitFor(t, "fourth stream", func() bool { return h.svc.opens() == 4 })

	if got := h.ctrl.Snapshot().Attempts; got != 1 {
		t.Errorf("attempts after restart = %d, want 1", got)
	}
}

// ── Settle ──────────────────────────────────────────────────────────

func TestSettle_FailedStartIsFinal(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	h.svc.initErr = errors.App(200, "bot unavailable")

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := h.ctrl.Settle(ctx)
	if err != nil || st != Errored {
		t.Fatalf("Settle = %v, %v; want Errored", st, err)
	}
	if got := h.ctrl.Snapshot().LastError; got != "bot unavailable" {
		t.Errorf("last error = %q", got)
	}
}

func TestSettle_KeepsWaitingWhilePolling(t *testing.T) {
	h := newHarness(t, "T1", hour, nil)
	s := h.startAwaiting(t)

	s.send(api.PairingEvent{Error: "pairing refused"})
	h.wait(t, Errored)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if st, err := h.ctrl.Settle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Settle = %v, %v; polling should keep the run open", st, err)
	}

	h.svc.set(func(f *fakeService) { f.status = api.Status{Connected: true, PhoneNumber: "+15550001"} })
	if _, err := h.ctrl.CheckStatus(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel2()
	if st, err := h.ctrl.Settle(ctx2); err != nil || st != Connected {
		t.Errorf("Settle = %v, %v; want Connected", st, err)
	}
}

func TestSettle_WaitsForForcedLogout(t *testing.T) {
	var h *harness
	h = newHarness(t, "T1", hour, func(o *Options) {
		o.OnSessionInvalid = func() {
			time.Sleep(20 * time.Millisecond)
			h.ctrl.ForceLogout(context.Background())
		}
	})
	h.svc.verifyErr = errors.ErrUnauthorized

	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	st, err := h.ctrl.Settle(ctx)
	if err != nil || st != Idle {
		t.Fatalf("Settle = %v, %v; want Idle", st, err)
	}
	if h.sess.Authenticated() {
		t.Error("session should be cleared")
	}
}

func TestStreamFailed_LogsTransientApart(t *testing.T) {
	var buf syncBuffer
	h := newHarness(t, "T1", hour, func(o *Options) {
		l := util.NewLogger(2)
		l.SetOutput(&buf)
		o.Logger = l
	})
	s := h.startAwaiting(t)

	s.fail(&errors.NetworkError{Op: "stream", Addr: "http://x", Err: io.ErrUnexpectedEOF, Retryable: true})
	waitFor(t, "second attempt", func() bool { return h.svc.opens() >= 2 })
	h.svc.stream(1).fail(errors.New("refused"))
	waitFor(t, "third attempt", func() bool { return h.svc.opens() >= 3 })

	out := buf.String()
	if !strings.Contains(out, "[VRB] pairing: stream attempt 1: transient:") {
		t.Errorf("transient failure not logged as such:\n%s", out)
	}
	if !strings.Contains(out, "[WRN] pairing: stream attempt 2: refused") {
		t.Errorf("hard failure should be a warning:\n%s", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
