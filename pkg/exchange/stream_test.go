package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestUserStreamSubscribesAndDelivers(t *testing.T) {
	upgrader := websocket.Upgrader{}
	subscribed := make(chan subscribeMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var sub subscribeMessage
		if err := conn.ReadJSON(&sub); err != nil {
			return
		}
		subscribed <- sub
		conn.WriteMessage(websocket.TextMessage, []byte(`{"action":"order_submitted","data":{"order_id":"1"}}`))
		// hold the connection until the client goes away
		conn.ReadMessage()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewUserStream(wsURL, 80002, "0xABCDEF", zap.NewNop().Sugar())
	go stream.Run(ctx)

	msg, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !strings.Contains(string(msg), "order_submitted") {
		t.Errorf("msg = %s", msg)
	}
	sub := <-subscribed
	if sub.Action != "subscribe" || sub.ChannelID != "80002/0xabcdef" {
		t.Errorf("subscribe = %+v", sub)
	}

	cancel()
	if _, err := stream.Next(context.Background()); err != ErrStreamClosed {
		t.Errorf("Next after shutdown = %v, want ErrStreamClosed", err)
	}
}

func TestUserStreamBacksOffAfterDroppedSessions(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var dials int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		atomic.AddInt32(&dials, 1)
		// accept the subscription, then hang up
		var sub subscribeMessage
		conn.ReadJSON(&sub)
		conn.Close()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	stream := NewUserStream(wsURL, 80002, "0xABCDEF", zap.NewNop().Sugar())
	stream.Run(ctx)

	// dial at 0s, wait 1s, dial at 1s, wait 2s
	if n := atomic.LoadInt32(&dials); n < 1 || n > 2 {
		t.Errorf("dialed %d times in 1.5s, want 1 or 2", n)
	}
}
