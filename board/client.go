package board

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

type dispatcher interface {
	dispatch(c *Client, data []byte)
	disconnect(c *Client)
}

// Client is one websocket connection. Reads happen on the ReadPump
// goroutine, all socket writes on the WritePump goroutine.
type Client struct {
	handle   uint64
	clientID string
	kind     string
	ip       string

	socket  WebsocketConnection
	outbox  chan []byte
	limiter *rate.Limiter

	ctx         context.Context
	cancel      context.CancelFunc
	closeOnce   sync.Once
	closeReason string

	// read goroutine only
	lastWarn time.Time

	log zerolog.Logger
}

func newClient(handle uint64, socket WebsocketConnection, ip, clientID, kind string, limiter *rate.Limiter, log zerolog.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		handle:   handle,
		clientID: clientID,
		kind:     kind,
		ip:       ip,
		socket:   socket,
		outbox:   make(chan []byte, 256),
		limiter:  limiter,
		ctx:      ctx,
		cancel:   cancel,
		log:      log.With().Uint64("conn", handle).Str("ip", ip).Logger(),
	}
}

func (c *Client) Handle() uint64 {
	return c.handle
}

func (c *Client) ClientID() string {
	return c.clientID
}

// Send queues data without blocking. A full queue means the peer is
// too slow and is reported to the caller.
func (c *Client) Send(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrClientClosed
	default:
	}
	select {
	case c.outbox <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close asks the write pump to send a close frame with reason and drop
// the socket. Safe to call from any goroutine, more than once.
func (c *Client) Close(reason string) {
	c.closeOnce.Do(func() {
		c.closeReason = reason
		c.cancel()
	})
}

func (c *Client) ReadPump(d dispatcher) {
	defer d.disconnect(c)

	for {
		data, err := c.socket.Read()
		if err != nil {
			c.log.Debug().Err(err).Msg("read pump stopped")
			return
		}
		d.dispatch(c, data)
		if c.ctx.Err() != nil {
			return
		}
	}
}

func (c *Client) WritePump(pings <-chan time.Time) {
	for {
		select {
		case <-c.ctx.Done():
			c.socket.Close(c.closeReason)
			return
		case data := <-c.outbox:
			if err := c.socket.Write(data); err != nil {
				c.Close("write-failed")
			}
		case <-pings:
			if err := c.socket.Ping(); err != nil {
				c.Close("ping-failed")
			}
		}
	}
}
