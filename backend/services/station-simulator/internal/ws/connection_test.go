package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type echoProcessor struct{}

func (echoProcessor) Process(_ context.Context, _ string, raw []byte) ([]byte, error) {
	return append([]byte("echo:"), raw...), nil
}

type recordingProcessor struct {
	mu       sync.Mutex
	received []string
}

func (r *recordingProcessor) Process(_ context.Context, _ string, raw []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.received = append(r.received, string(raw))
	return nil, nil
}

func (r *recordingProcessor) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.received...)
}

func newTestServer(t *testing.T, authorize Authorizer) (*httptest.Server, *Manager) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	manager := NewManager()
	srv := NewServer(ctx, manager, echoProcessor{}, "test0", authorize, Options{}, zap.NewNop())
	httpSrv := httptest.NewServer(http.HandlerFunc(srv.HandleWS))
	t.Cleanup(httpSrv.Close)
	return httpSrv, manager
}

func TestDialSendAndReceive(t *testing.T) {
	httpSrv, manager := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &recordingProcessor{}
	closed := make(chan string, 1)
	conn, err := Dial(ctx, url, "cs-1", rec, DialOptions{Subprotocol: "test0"}, zap.NewNop(), func(id string) { closed <- id })
	require.NoError(t, err)
	assert.Equal(t, "test0", conn.Subprotocol())
	go conn.Start(ctx)

	require.NoError(t, conn.Send([]byte("hello")))
	waitFor(t, time.Second, func() bool { return len(rec.snapshot()) == 1 })
	assert.Equal(t, []string{"echo:hello"}, rec.snapshot())
	waitFor(t, time.Second, func() bool { return manager.Count() == 1 })

	conn.Close()
	select {
	case id := <-closed:
		assert.Equal(t, "cs-1", id)
	case <-time.After(time.Second):
		t.Fatal("onClose not called")
	}
	assert.ErrorIs(t, conn.Send([]byte("late")), ErrConnectionClosed)
	waitFor(t, time.Second, func() bool { return manager.Count() == 0 })
}

func TestServerRejectsUnauthorized(t *testing.T) {
	httpSrv, _ := newTestServer(t, func(r *http.Request) error {
		if _, _, ok := r.BasicAuth(); !ok {
			return errors.New("missing credentials")
		}
		return nil
	})
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	_, err := Dial(context.Background(), url, "cs-1", &recordingProcessor{}, DialOptions{Subprotocol: "test0"}, zap.NewNop(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	conn, err := Dial(context.Background(), url, "cs-1", &recordingProcessor{}, DialOptions{Subprotocol: "test0", Username: "u", Password: "p"}, zap.NewNop(), nil)
	require.NoError(t, err)
	conn.Close()
}

func TestDialRequiresSubprotocol(t *testing.T) {
	httpSrv, _ := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	_, err := Dial(context.Background(), url, "cs-1", &recordingProcessor{}, DialOptions{Subprotocol: "other"}, zap.NewNop(), nil)
	assert.Error(t, err)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
