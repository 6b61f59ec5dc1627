package trade

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/stocksim/trading-engine/internal/model"
)

// wideQuotes builds a snapshot large enough that a burst of broadcasts
// overflows a connection's kernel and websocket buffers.
func wideQuotes(n int, price string) []model.Instrument {
	p := decimal.RequireFromString(price)
	quotes := make([]model.Instrument, n)
	for i := range quotes {
		quotes[i] = model.Instrument{
			Symbol:       fmt.Sprintf("SYM%04d", i),
			Name:         fmt.Sprintf("Synthetic Instrument %04d", i),
			BasePrice:    p,
			CurrentPrice: p,
			LastUpdated:  time.Now().UTC(),
		}
	}
	return quotes
}

func dialTestHub(t *testing.T, hub *WSHub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWSHub_StalledClientDoesNotStallBroadcasts(t *testing.T) {
	hub := NewWSHub(func(context.Context) ([]model.Instrument, error) {
		return wideQuotes(1, "175.50"), nil
	})
	hub.writeWait = 200 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	// This subscriber never reads, so its buffers fill up mid-burst.
	dialTestHub(t, hub)

	healthy := dialTestHub(t, hub)
	healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := healthy.ReadMessage(); err != nil {
		t.Fatalf("initial snapshot failed: %v", err)
	}

	const ticks = 64
	quotes := wideQuotes(1000, "180.00")
	for i := 0; i < ticks; i++ {
		hub.BroadcastQuotes(quotes)
	}

	received := 0
	for received < ticks {
		healthy.SetReadDeadline(time.Now().Add(2 * time.Second))
		if _, _, err := healthy.ReadMessage(); err != nil {
			break
		}
		received++
	}
	if received != ticks {
		t.Fatalf("healthy client received %d of %d broadcasts", received, ticks)
	}
}

func TestHandleWS_ConnectAfterShutdownClosesPromptly(t *testing.T) {
	hub := NewWSHub(func(context.Context) ([]model.Instrument, error) {
		return wideQuotes(1, "175.50"), nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()

	select {
	case <-hub.done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not shut down")
	}

	conn := dialTestHub(t, hub)

	// Registration must not block on the dead Run loop; the connection is
	// closed instead, which the client sees as an immediate read error.
	start := time.Now()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection closed after shutdown")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close took %s, connection was left hanging", elapsed)
	}
}
