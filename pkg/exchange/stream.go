package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var ErrStreamClosed = errors.New("user stream closed")

type subscribeMessage struct {
	Action    string `json:"action"`
	ChannelID string `json:"channelId"`
}

// UserStream keeps a websocket subscription to the wallet's private channel
// alive and buffers raw messages for the reconciliation loop.
type UserStream struct {
	url     string
	channel string
	logger  *zap.SugaredLogger
	msgs    chan []byte

	closed chan struct{}
	once   sync.Once

	ReadTimeout  time.Duration
	PingInterval time.Duration
	// StableAfter is how long a connection must last before the retry
	// counter resets. Shorter sessions back off like failed dials.
	StableAfter time.Duration
}

func NewUserStream(url string, chainID int64, wallet string, logger *zap.SugaredLogger) *UserStream {
	return &UserStream{
		url:          url,
		channel:      fmt.Sprintf("%d/%s", chainID, strings.ToLower(wallet)),
		logger:       logger,
		msgs:         make(chan []byte, 1024),
		closed:       make(chan struct{}),
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		StableAfter:  30 * time.Second,
	}
}

// Next blocks until a message arrives or ctx is done.
func (s *UserStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg := <-s.msgs:
		return msg, nil
	case <-s.closed:
		return nil, ErrStreamClosed
	}
}

// Run connects and reconnects with exponential backoff until ctx is done.
func (s *UserStream) Run(ctx context.Context) {
	defer s.once.Do(func() { close(s.closed) })
	retry := 0
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.connect(ctx)
		if err != nil {
			delay := Backoff(retry)
			s.logger.Warnw("user_stream_connect_failed", "err", err, "retry", retry, "delay", delay)
			retry++
			if !sleepCtx(ctx, delay) {
				return
			}
			continue
		}
		s.logger.Infow("user_stream_connected", "channel", s.channel)
		started := time.Now()
		s.readPump(ctx, conn)
		if time.Since(started) >= s.StableAfter {
			retry = 0
			continue
		}
		delay := Backoff(retry)
		s.logger.Warnw("user_stream_dropped", "retry", retry, "delay", delay)
		retry++
		if !sleepCtx(ctx, delay) {
			return
		}
	}
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *UserStream) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(subscribeMessage{Action: "subscribe", ChannelID: s.channel}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("subscribe failed: %w", err)
	}
	return conn, nil
}

func (s *UserStream) readPump(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer func() {
		close(done)
		conn.Close()
	}()

	// unblock ReadMessage on shutdown
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	if s.PingInterval > 0 {
		go s.pingLoop(conn, done)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
	})
	for {
		conn.SetReadDeadline(time.Now().Add(s.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warnw("user_stream_read_failed", "err", err)
			}
			return
		}
		select {
		case s.msgs <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (s *UserStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				s.logger.Warnw("user_stream_ping_failed", "err", err)
				conn.Close()
				return
			}
		}
	}
}
