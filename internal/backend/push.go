package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"P2PDesk/internal/models"

	"github.com/gorilla/websocket"
)

// PushClient dials the order-update gateway. It carries a list of gateway
// endpoints and rotates to the next one after failThreshold consecutive dial
// failures, so a single dead gateway does not pin the desk on poll-only.
type PushClient struct {
	endpoints     []string
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewPushClient(endpoints []string, failThreshold int) (*PushClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("push endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	return &PushClient{endpoints: list, failThreshold: failThreshold}, nil
}

// Dial opens one subscription for the given order. The bearer credential is
// passed as a connection parameter; the gateway rejects expired ones at
// handshake time.
func (p *PushClient) Dial(ctx context.Context, orderID string, kind models.OrderKind, token string) (*PushConn, error) {
	endpoint := p.current()
	values := url.Values{}
	values.Set("kind", string(kind))
	values.Set("token", token)
	target := endpoint + "/ws/orders/" + orderID + "?" + values.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, target, nil)
	if err != nil {
		p.noteFailure()
		return nil, err
	}
	p.noteSuccess()
	return &PushConn{conn: conn}, nil
}

func (p *PushClient) current() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.endpoints[p.index]
}

// Endpoint reports the gateway currently in use.
func (p *PushClient) Endpoint() string {
	return p.current()
}

func (p *PushClient) noteFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount++
	if p.failCount >= p.failThreshold {
		p.index = (p.index + 1) % len(p.endpoints)
		p.failCount = 0
	}
}

func (p *PushClient) noteSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failCount = 0
}

// PushConn is one live subscription. Close sends a close frame so the
// gateway sees a clean shutdown rather than a dropped socket.
type PushConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

// ReadOrder blocks until the next "order_updated" message and returns its
// full snapshot. Unknown event types are skipped, not errors.
func (c *PushConn) ReadOrder() (*models.Order, error) {
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		order, ok, err := ParsePushMessage(msg)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		return order, nil
	}
}

func (c *PushConn) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.conn.Close()
}

// IsCleanClose reports whether a read failure came from a deliberate close
// on either side, which must not trigger a reconnect.
func IsCleanClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}

// ParsePushMessage decodes one gateway frame. The second return is false for
// frames that are not order updates (keepalives, acks).
func ParsePushMessage(msg []byte) (*models.Order, bool, error) {
	var env struct {
		Event string          `json:"event"`
		Order json.RawMessage `json:"order"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return nil, false, err
	}
	if env.Error != "" {
		return nil, false, errors.New(env.Error)
	}
	if env.Event != "order_updated" || len(env.Order) == 0 {
		return nil, false, nil
	}
	var order models.Order
	if err := json.Unmarshal(env.Order, &order); err != nil {
		return nil, false, err
	}
	return &order, true, nil
}

// DefaultPushEndpoint derives the gateway address from the REST base URL
// when no push endpoints are configured.
func DefaultPushEndpoint(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(base, "ws://"), strings.HasPrefix(base, "wss://"):
		return base
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return ""
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
