package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"studiomic/internal/protocol"
)

// fakeBackend accepts websocket connections and hands every decoded request
// to respond. Test code may also push arbitrary replies on the latest connection.
type fakeBackend struct {
	t       *testing.T
	srv     *httptest.Server
	respond func(b *fakeBackend, conn *websocket.Conn, req protocol.Request)

	mu      sync.Mutex
	conns   []*websocket.Conn
	writeMu sync.Mutex
	onConn  func(index int, conn *websocket.Conn) bool
}

func newFakeBackend(t *testing.T, respond func(b *fakeBackend, conn *websocket.Conn, req protocol.Request)) *fakeBackend {
	t.Helper()
	b := &fakeBackend{t: t, respond: respond}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		index := len(b.conns) - 1
		onConn := b.onConn
		b.mu.Unlock()
		if onConn != nil && !onConn(index, conn) {
			_ = conn.Close()
			return
		}

		for {
			var req protocol.Request
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if b.respond != nil {
				b.respond(b, conn, req)
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBackend) send(conn *websocket.Conn, reply protocol.Reply) {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := conn.WriteJSON(reply); err != nil {
		b.t.Logf("fake backend write failed: %v", err)
	}
}

func (b *fakeBackend) latest() *websocket.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.conns) == 0 {
		return nil
	}
	return b.conns[len(b.conns)-1]
}

type statusRecorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *statusRecorder) record(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, connected)
}

func (r *statusRecorder) snapshot() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func startClient(t *testing.T, url string, cfg Config, onStatus func(bool)) *Client {
	t.Helper()
	cfg.URL = url
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Second
	}
	if cfg.ReconnectInterval == 0 {
		cfg.ReconnectInterval = time.Hour
	}
	client := New(cfg, onStatus)
	ctx, cancel := context.WithCancel(context.Background())
	client.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
	})
	waitFor(t, client.Connected)
	return client
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestSendReceivesCorrelatedReply(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		b.send(conn, protocol.Failure("stale-id", "from an earlier request"))
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "Sure!"}))
	})
	client := startClient(t, backend.url(), Config{}, nil)

	reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "add a track"})
	if err != nil {
		t.Fatalf("send failed: %v", err)
	}
	if !reply.Success {
		t.Fatalf("expected success, got %+v", reply)
	}
	payload, err := reply.DecodePayload()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if payload.Response != "Sure!" {
		t.Fatalf("unexpected response: %q", payload.Response)
	}
	if client.pending.len() != 0 {
		t.Fatalf("expected no pending listeners")
	}
}

func TestSendMintsDistinctIDsForConcurrentRequests(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := map[string]bool{}
	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		mu.Lock()
		seen[req.ID] = true
		mu.Unlock()
		var msg protocol.MessagePayload
		_ = json.Unmarshal(req.Payload, &msg)
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "echo:" + msg.Message}))
	})
	client := startClient(t, backend.url(), Config{}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			text := string(rune('a' + n))
			reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: text})
			if err != nil {
				errs <- err
				return
			}
			payload, _ := reply.DecodePayload()
			if payload.Response != "echo:"+text {
				errs <- errors.New("reply delivered to the wrong request: " + payload.Response)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 8 {
		t.Fatalf("expected 8 distinct correlation ids, got %d", len(seen))
	}
}

func TestSendDeliversDuplicateRepliesOnce(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "first"}))
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "second"}))
	})
	client := startClient(t, backend.url(), Config{}, nil)

	for i := 0; i < 2; i++ {
		reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "hi"})
		if err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
		payload, _ := reply.DecodePayload()
		if payload.Response != "first" {
			t.Fatalf("send %d: expected first reply, got %q", i, payload.Response)
		}
	}
	if !client.Connected() {
		t.Fatalf("duplicate reply should not break the channel")
	}
}

func TestSendTimesOutAndDropsLateReply(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var ids []string
	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		if req.Kind == protocol.KindCancel {
			return
		}
		mu.Lock()
		ids = append(ids, req.ID)
		first := len(ids) == 1
		mu.Unlock()
		if first {
			return
		}
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "fresh"}))
	})
	timeout := 100 * time.Millisecond
	client := startClient(t, backend.url(), Config{RequestTimeout: timeout}, nil)

	started := time.Now()
	_, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "slow"})
	if !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("expected ErrBackendTimeout, got %v", err)
	}
	if elapsed := time.Since(started); elapsed < timeout {
		t.Fatalf("timed out early after %s", elapsed)
	}
	if client.pending.len() != 0 {
		t.Fatalf("listener should be removed after timeout")
	}

	mu.Lock()
	staleID := ids[0]
	mu.Unlock()
	backend.send(backend.latest(), protocol.Success(staleID, protocol.ReplyPayload{Response: "stale"}))

	reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "again"})
	if err != nil {
		t.Fatalf("channel should stay usable after a timeout: %v", err)
	}
	payload, _ := reply.DecodePayload()
	if payload.Response != "fresh" {
		t.Fatalf("stale reply leaked into a later request: %q", payload.Response)
	}
}

func TestSendFailsWithChannelClosedOnDisconnect(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, func(_ *fakeBackend, conn *websocket.Conn, _ protocol.Request) {
		_ = conn.Close()
	})
	status := &statusRecorder{}
	client := startClient(t, backend.url(), Config{}, status.record)

	_, err := client.Send(context.Background(), protocol.KindAudioForTranscription, protocol.AudioPayload{Audio: []byte{1, 2}})
	if !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected ErrChannelClosed, got %v", err)
	}
	if _, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while disconnected, got %v", err)
	}

	waitFor(t, func() bool { return len(status.snapshot()) == 2 })
	events := status.snapshot()
	if !events[0] || events[1] {
		t.Fatalf("unexpected status events: %v", events)
	}
}

func TestSendBeforeConnectIsNotConnected(t *testing.T) {
	t.Parallel()

	client := New(Config{URL: "ws://127.0.0.1:1/ws"}, nil)
	defer client.Close()

	if _, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "hi"}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestClientReconnectsAfterDrop(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "back"}))
	})
	backend.onConn = func(index int, _ *websocket.Conn) bool {
		return index > 0
	}
	status := &statusRecorder{}
	client := startClient(t, backend.url(), Config{ReconnectInterval: 20 * time.Millisecond}, status.record)

	waitFor(t, func() bool { return len(status.snapshot()) >= 3 && client.Connected() })

	reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "hi"})
	if err != nil {
		t.Fatalf("send after reconnect failed: %v", err)
	}
	payload, _ := reply.DecodePayload()
	if payload.Response != "back" {
		t.Fatalf("unexpected response: %q", payload.Response)
	}
}

func TestCloseFailsInFlightRequests(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, nil)
	client := startClient(t, backend.url(), Config{}, nil)

	errc := make(chan error, 1)
	go func() {
		_, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "hi"})
		errc <- err
	}()
	waitFor(t, func() bool { return client.pending.len() == 1 })

	if err := client.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrChannelClosed) {
			t.Fatalf("expected ErrChannelClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("in-flight send did not resolve on close")
	}
	if client.Connected() {
		t.Fatalf("client should be disconnected after close")
	}
}

func TestSendHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, nil)
	client := startClient(t, backend.url(), Config{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.Send(ctx, protocol.KindMessage, protocol.MessagePayload{Message: "hi"})
		errc <- err
	}()
	waitFor(t, func() bool { return client.pending.len() == 1 })
	cancel()

	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.pending.len() != 0 {
		t.Fatalf("listener should be removed on cancellation")
	}
}

// cancelRecorder collects the ids of cancel envelopes and never replies.
type cancelRecorder struct {
	mu        sync.Mutex
	requested []string
	cancelled chan string
}

func (r *cancelRecorder) respond(_ *fakeBackend, _ *websocket.Conn, req protocol.Request) {
	if req.Kind == protocol.KindCancel {
		r.cancelled <- req.ID
		return
	}
	r.mu.Lock()
	r.requested = append(r.requested, req.ID)
	r.mu.Unlock()
}

func (r *cancelRecorder) first() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.requested) == 0 {
		return ""
	}
	return r.requested[0]
}

func TestSendCancelsAbandonedRequest(t *testing.T) {
	t.Parallel()

	rec := &cancelRecorder{cancelled: make(chan string, 2)}
	backend := newFakeBackend(t, rec.respond)
	client := startClient(t, backend.url(), Config{RequestTimeout: 50 * time.Millisecond}, nil)

	if _, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "slow"}); !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("expected ErrBackendTimeout, got %v", err)
	}
	select {
	case id := <-rec.cancelled:
		if id != rec.first() {
			t.Fatalf("cancel named %q, expected %q", id, rec.first())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no cancel sent after timeout")
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := client.Send(ctx, protocol.KindMessage, protocol.MessagePayload{Message: "abandoned"})
		errc <- err
	}()
	waitFor(t, func() bool { return client.pending.len() == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	select {
	case <-rec.cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("no cancel sent after caller gave up")
	}
}

func TestSendUsesKindTimeout(t *testing.T) {
	t.Parallel()

	backend := newFakeBackend(t, func(b *fakeBackend, conn *websocket.Conn, req protocol.Request) {
		if req.Kind != protocol.KindMessage {
			return
		}
		go func() {
			time.Sleep(150 * time.Millisecond)
			b.send(conn, protocol.Success(req.ID, protocol.ReplyPayload{Response: "generated"}))
		}()
	})
	client := startClient(t, backend.url(), Config{
		RequestTimeout: 50 * time.Millisecond,
		KindTimeouts:   map[protocol.Kind]time.Duration{protocol.KindMessage: 2 * time.Second},
	}, nil)

	reply, err := client.Send(context.Background(), protocol.KindMessage, protocol.MessagePayload{Message: "make music"})
	if err != nil {
		t.Fatalf("message should use its longer bound: %v", err)
	}
	if payload, _ := reply.DecodePayload(); payload.Response != "generated" {
		t.Fatalf("unexpected response: %q", payload.Response)
	}

	if _, err := client.Send(context.Background(), protocol.KindAudioForConversion, protocol.AudioPayload{Audio: []byte{1}}); !errors.Is(err, ErrBackendTimeout) {
		t.Fatalf("conversion should keep the default bound, got %v", err)
	}
}
