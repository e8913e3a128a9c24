package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTrade(t *testing.T) {
	tick, ok, err := parseTrade([]byte(`{"type":"trade","symbol":"EURUSD","price":1.1,"qty":2,"ts_us":1741600000000000}`), "ebs")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.1, tick.Price)
	assert.Equal(t, 2.0, tick.Quantity)
	assert.Equal(t, "ebs", tick.Venue)
	assert.Equal(t, time.UTC, tick.Timestamp.Location())

	_, ok, err = parseTrade([]byte(`{"type":"heartbeat"}`), "ebs")
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = parseTrade([]byte(`{"type":"trade","price":-1}`), "ebs")
	require.Error(t, err)

	_, _, err = parseTrade([]byte(`{broken`), "ebs")
	require.Error(t, err)
}

func TestWSClient_StreamsTicks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		// Expect the subscribe frame before sending anything.
		var sub subscribeRequest
		require.NoError(t, conn.ReadJSON(&sub))
		require.Equal(t, "subscribe", sub.Op)
		require.Equal(t, "EURUSD", sub.Symbol)

		messages := []string{
			`{"type":"heartbeat"}`,
			`{"type":"trade","symbol":"EURUSD","price":1.1001,"qty":1,"ts_us":1741600000000000}`,
			`{"type":"trade","symbol":"EURUSD","price":1.1002,"qty":2,"ts_us":1741600001000000}`,
		}
		for _, m := range messages {
			require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(m)))
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewWSClient(WSConfig{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		Symbol:         "EURUSD",
		Venue:          "ebs",
		ReconnectEvery: 10 * time.Millisecond,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()

	var prices []float64
	timeout := time.After(5 * time.Second)
	for len(prices) < 2 {
		select {
		case tick := <-client.Ticks():
			prices = append(prices, tick.Price)
		case <-timeout:
			t.Fatal("timed out waiting for ticks")
		}
	}
	assert.Equal(t, []float64{1.1001, 1.1002}, prices)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not shut down")
	}
}

func TestWSClient_ReconnectDoesNotLeakGoroutines(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		var sub subscribeRequest
		if err := conn.ReadJSON(&sub); err != nil {
			conn.Close()
			return
		}
		conns.Add(1)
		conn.Close() // drop immediately, forcing the client to reconnect
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewWSClient(WSConfig{
		URL:            "ws" + strings.TrimPrefix(server.URL, "http"),
		Symbol:         "EURUSD",
		Venue:          "ebs",
		ReconnectEvery: 5 * time.Millisecond,
	})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.Run(ctx)
	}()

	waitForConns := func(n int32) {
		deadline := time.After(10 * time.Second)
		for conns.Load() < n {
			select {
			case <-deadline:
				t.Fatalf("timed out waiting for %d connections, saw %d", n, conns.Load())
			case <-time.After(5 * time.Millisecond):
			}
		}
	}

	waitForConns(3)
	time.Sleep(50 * time.Millisecond)
	before := runtime.NumGoroutine()

	waitForConns(15)
	time.Sleep(50 * time.Millisecond)
	after := runtime.NumGoroutine()

	// A dozen reconnects must not grow the goroutine count by a dozen
	// watchers; allow slack for transient server handlers.
	assert.LessOrEqual(t, after, before+5,
		"goroutines grew from %d to %d across reconnects", before, after)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client did not shut down")
	}
}

func TestReadTicksCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	body := "ts_us,price,qty,venue,bid,ask\n" +
		"1741600000000000,1.1001,2.5,ebs,1.1000,1.1002\n" +
		"1741600001000000,1.1003,1.0,ebs,1.1002,1.1004\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	ticks, err := ReadTicksCSV(path)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, 1.1001, ticks[0].Price)
	assert.Equal(t, 1.1000, ticks[0].Bid)
	assert.Equal(t, "ebs", ticks[0].Venue)

	_, err = ReadTicksCSV(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
}

func TestReadTicksCSV_BadRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.csv")
	require.NoError(t, os.WriteFile(path, []byte("notanumber,1.1,1,ebs\n"), 0o644))
	_, err := ReadTicksCSV(path)
	require.Error(t, err)
}
