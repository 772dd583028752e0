package pubsubws_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"pubcap/pkg/pubsubws"
)

type request struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int      `json:"id"`
}

type envelope struct {
	Channel string `json:"channel"`
	Payload []byte `json:"payload"`
}

// testServer runs handler on each websocket connection it accepts.
func testServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readRequest(t *testing.T, conn *websocket.Conn) request {
	t.Helper()
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var req request
	require.NoError(t, json.Unmarshal(data, &req))
	return req
}

func logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSubscribeAndReceive(t *testing.T) {
	reqs := make(chan request, 1)
	url := testServer(t, func(conn *websocket.Conn) {
		reqs <- readRequest(t, conn)
		require.NoError(t, conn.WriteJSON(envelope{Channel: "sensors", Payload: []byte("reading-1")}))
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "sensors")
	require.NoError(t, err)

	req := <-reqs
	require.Equal(t, "SUBSCRIBE", req.Method)
	require.Equal(t, []string{"sensors"}, req.Params)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "sensors", msg.Channel)
	require.Equal(t, "reading-1", string(msg.Payload))
	require.False(t, msg.ReceivedAt.IsZero())
}

func TestDuplicateSubscriptionsEachReceive(t *testing.T) {
	ready := make(chan struct{})
	url := testServer(t, func(conn *websocket.Conn) {
		readRequest(t, conn)
		readRequest(t, conn)
		close(ready)
		require.NoError(t, conn.WriteJSON(envelope{Channel: "dup", Payload: []byte("once")}))
		_, _, _ = conn.ReadMessage()
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	first, err := client.Subscribe(context.Background(), "dup")
	require.NoError(t, err)
	second, err := client.Subscribe(context.Background(), "dup")
	require.NoError(t, err)
	<-ready

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := first.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "once", string(msg.Payload))
	msg, err = second.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "once", string(msg.Payload))
}

func TestConnectionFailureSurfacesToRecv(t *testing.T) {
	url := testServer(t, func(conn *websocket.Conn) {
		readRequest(t, conn)
		// Drop the connection without a close handshake.
		_ = conn.Close()
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "doomed")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = sub.Recv(ctx)
	require.Error(t, err)
	require.NotErrorIs(t, err, context.DeadlineExceeded)
}

func TestBufferedMessagesDrainAfterFailure(t *testing.T) {
	url := testServer(t, func(conn *websocket.Conn) {
		readRequest(t, conn)
		require.NoError(t, conn.WriteJSON(envelope{Channel: "c", Payload: []byte("last")}))
		_ = conn.Close()
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "c")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msg, err := sub.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, "last", string(msg.Payload))

	_, err = sub.Recv(ctx)
	require.Error(t, err)
}

func TestUnsubscribeOnLastClose(t *testing.T) {
	reqs := make(chan request, 3)
	url := testServer(t, func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req request
			if json.Unmarshal(data, &req) == nil {
				reqs <- req
			}
		}
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	first, err := client.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	second, err := client.Subscribe(context.Background(), "c")
	require.NoError(t, err)
	require.Equal(t, "SUBSCRIBE", (<-reqs).Method)
	require.Equal(t, "SUBSCRIBE", (<-reqs).Method)

	// Closing one of two duplicates must not unsubscribe the channel.
	require.NoError(t, first.Close())
	require.NoError(t, second.Close())

	select {
	case req := <-reqs:
		require.Equal(t, "UNSUBSCRIBE", req.Method)
		require.Equal(t, []string{"c"}, req.Params)
	case <-time.After(5 * time.Second):
		t.Fatal("expected an UNSUBSCRIBE request")
	}
	require.Empty(t, reqs)
}

func TestRecvHonorsContext(t *testing.T) {
	url := testServer(t, func(conn *websocket.Conn) {
		readRequest(t, conn)
		_, _, _ = conn.ReadMessage()
	})

	client, err := pubsubws.Dial(context.Background(), url, logger())
	require.NoError(t, err)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "quiet")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = sub.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
