package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/xenking/pickup-proximity/internal/broadcast"
	"github.com/xenking/pickup-proximity/internal/domain/proximity"
	"github.com/xenking/pickup-proximity/internal/domain/tracking"
	"github.com/xenking/pickup-proximity/pkg/httpmiddleware"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Clients only send control frames.
	maxMessageSize = 512
)

// WatchOrder handles GET /ws/orders/{orderId}.
func (h *Handler) WatchOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.tracker.Authorize(r.Context(), caller(r), mux.Vars(r)["orderId"])
	if err != nil {
		writeTrackingError(w, r, err)
		return
	}
	h.serveTopic(w, r, broadcast.OrderTopic(o.ID))
}

// WatchRestaurant handles GET /ws/restaurants/{restaurantId}.
func (h *Handler) WatchRestaurant(w http.ResponseWriter, r *http.Request) {
	restaurantID := mux.Vars(r)["restaurantId"]
	if !tracking.CanWatchRestaurant(caller(r), restaurantID) {
		writeTrackingError(w, r, tracking.ErrForbidden)
		return
	}
	h.serveTopic(w, r, broadcast.RestaurantTopic(restaurantID))
}

// serveTopic upgrades the request and streams the topic's updates until
// the peer goes away or the handler is closed.
func (h *Handler) serveTopic(w http.ResponseWriter, r *http.Request, topic broadcast.Topic) {
	if !websocket.IsWebSocketUpgrade(r) {
		httpmiddleware.WriteError(w, http.StatusBadRequest, "websocket upgrade required")
		return
	}
	lg := zctx.From(r.Context()).With(zap.String("topic", string(topic)))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied.
		lg.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	peer := &wsPeer{conn: conn}
	defer func() { _ = conn.Close() }()

	id, err := h.broker.Subscribe(topic, peer)
	if err != nil {
		lg.Warn("Subscribe failed", zap.Error(err))
		peer.close(websocket.CloseTryAgainLater, "shutting down")
		return
	}
	defer h.broker.Unsubscribe(id)
	lg.Debug("Websocket subscribed")

	done := make(chan struct{})
	go func() {
		defer close(done)
		peer.readLoop()
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			lg.Debug("Websocket closed")
			return
		case <-h.closing:
			peer.close(websocket.CloseGoingAway, "server shutting down")
			_ = conn.Close()
			<-done
			return
		case <-ticker.C:
			if err := peer.ping(); err != nil {
				lg.Debug("Ping failed", zap.Error(err))
				_ = conn.Close()
				<-done
				return
			}
		}
	}
}

// wsPeer is a hub subscriber writing updates to one websocket. The hub
// delivers from its own goroutine and pings come from the serving one, so
// writes are serialized here.
type wsPeer struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (p *wsPeer) Deliver(_ context.Context, u proximity.Update) error {
	var e jx.Encoder
	broadcast.EncodeUpdate(&e, u)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return errors.Wrap(err, "set write deadline")
	}
	if err := p.conn.WriteMessage(websocket.TextMessage, e.Bytes()); err != nil {
		return errors.Wrap(err, "write update")
	}
	return nil
}

func (p *wsPeer) ping() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (p *wsPeer) close(code int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

// readLoop discards client frames and keeps the pong deadline fresh. It
// returns when the connection fails or closes.
func (p *wsPeer) readLoop() {
	p.conn.SetReadLimit(maxMessageSize)
	_ = p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		return p.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := p.conn.NextReader(); err != nil {
			return
		}
	}
}
