package broker

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"

	"github.com/aristath/sentinel/internal/domain"
)

// Reconnection constants, mirroring the market-status stream's backoff
// shape: short initial retries, capped growth, a hard attempt ceiling
// before giving up and leaving the caller on the 10-second poll tick.
const (
	baseReconnectDelay   = 5 * time.Second
	maxReconnectDelay    = 5 * time.Minute
	maxReconnectAttempts = 10
	streamDialTimeout    = 30 * time.Second
)

// OrderAck is a push notification of an order status transition.
type OrderAck struct {
	BrokerOrderID string
	Status        domain.OrderStatus
	FilledQty     int64
	AvgFillPrice  float64
	At            time.Time
}

// OrderStream is the optional low-latency order-ack channel. When the
// broker's push feed is unreachable the gateway continues to function
// via the 10-second poll tick; this is never a mandatory dependency
// the same advisory-degrade shape as the Intelligence Oracle.
type OrderStream struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger

	mu         sync.RWMutex
	conn       *websocket.Conn
	connected  bool
	stopChan   chan struct{}
	stopped    bool
	acks       chan OrderAck
}

// NewOrderStream builds a stream client against url, not yet connected.
func NewOrderStream(url string, log zerolog.Logger) *OrderStream {
	return &OrderStream{
		url:        url,
		httpClient: http1Client(),
		log:        log.With().Str("component", "order_ack_stream").Logger(),
		stopChan:   make(chan struct{}),
		acks:       make(chan OrderAck, 64),
	}
}

// http1Client forces HTTP/1.1 for the websocket upgrade handshake,
// since some brokerage edge proxies negotiate HTTP/2 via ALPN and that
// breaks the upgrade.
func http1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   streamDialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig:   &tls.Config{NextProtos: []string{"http/1.1"}},
			ForceAttemptHTTP2: false,
		},
	}
}

// Acks returns the channel order acknowledgements are delivered on.
func (s *OrderStream) Acks() <-chan OrderAck { return s.acks }

// Start connects and begins the read loop, reconnecting with backoff
// on disconnect up to maxReconnectAttempts before giving up silently.
func (s *OrderStream) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		go s.reconnectLoop(ctx)
		return err
	}
	go s.readLoop(ctx)
	return nil
}

// Stop closes the connection and halts reconnect attempts.
func (s *OrderStream) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	close(s.stopChan)
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "shutting down")
	}
}

func (s *OrderStream) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, streamDialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	s.log.Info().Msg("order-ack stream connected")
	return nil
}

func (s *OrderStream) reconnectLoop(ctx context.Context) {
	delay := baseReconnectDelay
	for attempt := 1; attempt <= maxReconnectAttempts; attempt++ {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := s.connect(ctx); err == nil {
			go s.readLoop(ctx)
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
	s.log.Warn().Msg("order-ack stream exhausted reconnect attempts, staying on poll fallback")
}

func (s *OrderStream) readLoop(ctx context.Context) {
	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			select {
			case <-s.stopChan:
				return
			default:
				go s.reconnectLoop(ctx)
				return
			}
		}

		var msg struct {
			OrderID      string  `json:"order_id"`
			Status       string  `json:"status"`
			FilledQty    string  `json:"filled_qty"`
			FilledAvgPrice string `json:"filled_avg_price"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		ack := OrderAck{
			BrokerOrderID: msg.OrderID,
			Status:        domain.OrderStatus(msg.Status),
			FilledQty:     int64(wireFloat(msg.FilledQty)),
			AvgFillPrice:  wireFloat(msg.FilledAvgPrice),
			At:            time.Now(),
		}
		select {
		case s.acks <- ack:
		default:
			s.log.Warn().Msg("order-ack channel full, dropping ack")
		}
	}
}
