package hub

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/config"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/domain"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/fanout"
	"github.com/weiawesome/wes-io-live/chat-relay/internal/metrics"
	"github.com/weiawesome/wes-io-live/chat-relay/pkg/log"
)

const defaultSendBuffer = 256

type Client struct {
	ID       string
	Identity string
	Hub      *Hub
	Conn     *websocket.Conn
	Send     chan []byte
	config   config.WebSocketConfig

	mu     sync.RWMutex
	subs   map[string]*fanout.Subscription // channel -> subscription
	closed bool
}

func NewClient(id, identity string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	size := cfg.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}
	return &Client{
		ID:       id,
		Identity: identity,
		Hub:      hub,
		Conn:     conn,
		Send:     make(chan []byte, size),
		config:   cfg,
		subs:     make(map[string]*fanout.Subscription),
	}
}

// Subscribe attaches the client to a fan-out channel and forwards every
// payload as an event frame. Subscribing twice is a no-op.
func (c *Client) Subscribe(ctx context.Context, broker fanout.Broker, channel string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	if _, ok := c.subs[channel]; ok {
		return nil
	}

	sub, err := broker.Subscribe(ctx, channel)
	if err != nil {
		return err
	}
	c.subs[channel] = sub
	go c.forward(sub)
	return nil
}

// Unsubscribe reports whether the client was subscribed.
func (c *Client) Unsubscribe(channel string) bool {
	c.mu.Lock()
	sub, ok := c.subs[channel]
	delete(c.subs, channel)
	c.mu.Unlock()

	if ok {
		sub.Close()
	}
	return ok
}

func (c *Client) Subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func (c *Client) forward(sub *fanout.Subscription) {
	for payload := range sub.C {
		data, err := json.Marshal(&domain.EventFrame{
			Type:    domain.FrameEvent,
			Channel: sub.Channel,
			Payload: payload,
		})
		if err != nil {
			continue
		}
		c.enqueue(data)
	}
}

// enqueue never blocks; a slow client loses frames rather than stalling
// the fan-out.
func (c *Client) enqueue(data []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		metrics.FanoutDropped.WithLabelValues("websocket").Inc()
		l := log.L()
		l.Debug().Str(log.FieldConnectionID, c.ID).Msg("client send buffer full, frame dropped")
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	for ch, sub := range c.subs {
		sub.Close()
		delete(c.subs, ch)
	}
	close(c.Send)
}

func (c *Client) ReadPump(handler func(*Client, []byte)) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				l := log.L()
				l.Warn().Err(err).Str(log.FieldConnectionID, c.ID).Msg("websocket read error")
			}
			break
		}

		handler(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) SendMessage(message interface{}) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	c.enqueue(data)
	return nil
}
