package marketfeed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"SignalGate/internal/domain/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFrame(t *testing.T) {
	envs, err := DecodeFrame([]byte(`{"stream":"prices","price":{"symbol":"BTC","price":65000,"timestamp":"2025-03-01T09:30:00Z"}}`))
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, "BTC", envs[0].Key())

	envs, err = DecodeFrame([]byte(`[
		{"stream":"trades","trade":{"symbol":"SOL","side":"buy","amount":1,"price":150,"timestamp":"2025-03-01T09:30:00Z"}},
		{"stream":"orderbook","book":{"symbol":"SOL","bids":[[149.9,10]],"asks":[[150.1,12]]}}
	]`))
	require.NoError(t, err)
	require.Len(t, envs, 2)
	assert.Equal(t, 150.1, envs[1].Book.Asks[0].Price)

	_, err = DecodeFrame([]byte(`{"type":"ping"}`))
	assert.Error(t, err)
}

func TestClientStreamsEnvelopes(t *testing.T) {
	subscribed := make(chan string, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var msg map[string]string
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		subscribed <- msg["symbol"]
		_ = conn.WriteMessage(websocket.TextMessage,
			[]byte(`{"stream":"volumes","volume":{"symbol":"SOL","volume":42,"timestamp":"2025-03-01T09:30:00Z"}}`))
		time.Sleep(100 * time.Millisecond)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	c := New(url, []string{"SOL"}, 10*time.Millisecond, time.Second, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.True(t, c.IsConnected())
	require.NoError(t, c.Subscribe(ctx))
	assert.Equal(t, "SOL", <-subscribed)

	envs, errs := c.Read(ctx)
	select {
	case env := <-envs:
		assert.Equal(t, models.StreamVolumes, env.Stream)
		assert.Equal(t, 42.0, env.Volume.Volume)
	case <-ctx.Done():
		t.Fatal("no envelope received")
	}

	// the server hangs up and the read loop reports it
	select {
	case err := <-errs:
		assert.Error(t, err)
	case <-ctx.Done():
		t.Fatal("no read error after server close")
	}

	require.NoError(t, c.Close())
	assert.False(t, c.IsConnected())
}
