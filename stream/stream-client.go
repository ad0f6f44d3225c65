package stream

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// Transport is the outbound half of a venue connection.
type Transport interface {
	Send(payload []byte) error
	Close() error
}

// Dialer opens a transport and delivers every inbound frame to onFrame, in order.
type Dialer interface {
	Dial(ctx context.Context, url string, onFrame func(raw []byte)) (Transport, error)
}

// WebsocketDialer dials venues with gorilla/websocket and keeps the
// connection alive with ping/pong.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
	// PingFrame, when set, replaces control pings with an application
	// level heartbeat sent every PingPeriod.
	PingFrame  func() []byte
	PingPeriod time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, onFrame func(raw []byte)) (Transport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 5 * time.Second
	}

	conn, _, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		return nil, err
	}

	c := &StreamClient{
		conn:       conn,
		onFrame:    onFrame,
		pingFrame:  d.PingFrame,
		pingPeriod: d.PingPeriod,
		done:       make(chan struct{}),
		log:        logger.WithField("url", url),
	}
	if c.pingPeriod <= 0 {
		c.pingPeriod = pingPeriod
	}
	go c.readPump()
	go c.pingPump()

	return c, nil
}

// StreamClient is a Transport over a single websocket connection.
type StreamClient struct {
	conn       *websocket.Conn
	onFrame    func(raw []byte)
	pingFrame  func() []byte
	pingPeriod time.Duration
	writeMu    sync.Mutex
	done       chan struct{}
	closeOnce  sync.Once
	log        *logrus.Entry
}

func (c *StreamClient) Send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *StreamClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// Done is closed once the connection is closed locally or the read loop stops.
func (c *StreamClient) Done() <-chan struct{} { return c.done }

func (c *StreamClient) readPump() {
	defer c.closeLocally()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.WithError(err).Warn("read loop stopped")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.onFrame(msg)
	}
}

func (c *StreamClient) pingPump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			var err error
			if c.pingFrame != nil {
				err = c.Send(c.pingFrame())
			} else {
				c.writeMu.Lock()
				err = c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
				c.writeMu.Unlock()
			}
			if err != nil {
				c.log.WithError(err).Warn("ping failed")
				return
			}
		}
	}
}

func (c *StreamClient) closeLocally() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}
