package streamer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NotVinay/tastystream/dxfeed"
)

const (
	// Time allowed to write a frame to the feed.
	writeWait = 10 * time.Second
	// Maximum frame size accepted from the feed.
	maxMessageSize = 1 << 20
	// Keep-alive period when the server advises no timeout.
	defaultKeepAlive = 30 * time.Second
)

// requestedAdvice is sent with the handshake.
var requestedAdvice = dxfeed.Advice{Timeout: 60000, Interval: 0}

// conn is one transport connection to the feed with its cometd client id and
// its own schema cache.
type conn struct {
	ws       *websocket.Conn
	clientID string
	advice   dxfeed.Advice
	mapper   *dxfeed.Mapper
	log      *slog.Logger
	metrics  *Metrics

	// nonce is touched by the handshake and then only by the writer
	// goroutine.
	nonce int64
}

// dialConn opens the transport and performs the handshake. The returned
// connection has a client id but has not sent connect yet.
func dialConn(ctx context.Context, o *options, url, token string) (*conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, o.handshakeTimeout)
	defer cancel()

	ws, _, err := o.dialer.DialContext(dialCtx, url, nil)
	if err != nil {
		if ctx.Err() == nil && errors.Is(dialCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: dialing %s", ErrHandshakeTimeout, url)
		}
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	ws.SetReadLimit(maxMessageSize)

	c := &conn{
		ws:      ws,
		mapper:  dxfeed.NewMapper(o.log),
		log:     o.log,
		metrics: o.metrics,
	}

	stop := context.AfterFunc(ctx, func() { ws.Close() })
	defer stop()

	ws.SetReadDeadline(time.Now().Add(o.handshakeTimeout))
	if err := c.write(dxfeed.HandshakeMessage(token, requestedAdvice)); err != nil {
		ws.Close()
		return nil, fmt.Errorf("%w: sending handshake: %v", ErrTransportFault, err)
	}
	reply, err := c.await(dxfeed.ChannelHandshake)
	if err != nil {
		ws.Close()
		return nil, err
	}
	if !reply.OK() {
		ws.Close()
		return nil, fmt.Errorf("%w: %s", ErrHandshakeRejected, reply.Error)
	}

	c.clientID = reply.ClientID
	c.advice = requestedAdvice
	if reply.Advice != nil && reply.Advice.Timeout > 0 {
		c.advice = *reply.Advice
	}
	c.log.Debug("handshake complete", "client_id", c.clientID, "advice_timeout_ms", c.advice.Timeout)
	return c, nil
}

// ready clears any subscriptions the server may hold for the client and
// sends the first connect, waiting for its acknowledgement.
func (c *conn) ready(ctx context.Context, timeout time.Duration) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	reset, err := dxfeed.SubscriptionMessage(c.clientID, dxfeed.SubscriptionData{Reset: true})
	if err != nil {
		return err
	}
	c.ws.SetReadDeadline(time.Now().Add(timeout))
	if err := c.write(reset, dxfeed.ConnectMessage(c.clientID)); err != nil {
		return fmt.Errorf("%w: sending connect: %v", ErrTransportFault, err)
	}
	ack, err := c.await(dxfeed.ChannelConnect)
	if err != nil {
		return err
	}
	if !ack.OK() {
		return fmt.Errorf("%w: connect refused: %s", ErrHandshakeRejected, ack.Error)
	}
	c.ws.SetReadDeadline(time.Time{})
	return nil
}

// await reads frames until a message on channel arrives. Anything else read
// meanwhile is discarded.
func (c *conn) await(channel string) (dxfeed.Message, error) {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return dxfeed.Message{}, fmt.Errorf("%w: waiting for %s", ErrHandshakeTimeout, channel)
			}
			return dxfeed.Message{}, fmt.Errorf("%w: waiting for %s: %v", ErrTransportFault, channel, err)
		}
		msgs, err := dxfeed.DecodeFrame(frame)
		if err != nil {
			return dxfeed.Message{}, fmt.Errorf("%w: %v", ErrTransportFault, err)
		}
		for _, msg := range msgs {
			if msg.Channel == channel {
				return msg, nil
			}
			c.log.Debug("ignoring message before ready", "channel", msg.Channel)
		}
	}
}

func (c *conn) nextID() string {
	c.nonce++
	return strconv.FormatInt(c.nonce, 10)
}

// write stamps message ids and sends msgs as one text frame. Callers must
// not write concurrently.
func (c *conn) write(msgs ...dxfeed.Message) error {
	for i := range msgs {
		msgs[i].ID = c.nextID()
	}
	frame, err := dxfeed.Encode(msgs...)
	if err != nil {
		return err
	}
	c.log.Debug("sending frame", "frame", string(frame))
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// readLoop decodes inbound frames and sends the resulting events to out in
// arrival order. It returns when the transport fails or ctx is done.
func (c *conn) readLoop(ctx context.Context, out chan<- dxfeed.Event) error {
	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrTransportFault, err)
		}
		c.metrics.frameReceived()

		msgs, err := dxfeed.DecodeFrame(frame)
		if err != nil {
			c.metrics.payloadDropped("malformed_frame")
			return fmt.Errorf("%w: %v", ErrTransportFault, err)
		}
		for _, msg := range msgs {
			events, err := c.handle(msg)
			if err != nil {
				return err
			}
			for _, ev := range events {
				select {
				case out <- ev:
					c.metrics.eventReceived(ev.EventType())
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

// handle maps one inbound message. Per-payload decode failures are logged
// and dropped; only a server demand to start over is returned as an error.
func (c *conn) handle(msg dxfeed.Message) ([]dxfeed.Event, error) {
	switch msg.Channel {
	case dxfeed.ChannelData:
		p, err := dxfeed.ParsePayload(msg.Data)
		if err != nil {
			c.metrics.payloadDropped("malformed_payload")
			c.log.Warn("dropping payload", "error", err)
			return nil, nil
		}
		events, err := c.mapper.Map(p)
		if err != nil {
			c.metrics.payloadDropped(dropReason(err))
			c.log.Warn("dropping payload", "type", p.Type, "kind", p.Kind.String(), "error", err)
			return nil, nil
		}
		return events, nil

	case dxfeed.ChannelConnect:
		if !msg.OK() && msg.Advice != nil && (msg.Advice.Reconnect == "handshake" || msg.Advice.Reconnect == "none") {
			return nil, fmt.Errorf("%w: server advised %s: %s", ErrTransportFault, msg.Advice.Reconnect, msg.Error)
		}
		c.log.Debug("connect acknowledged", "successful", msg.OK())

	case dxfeed.ChannelSub:
		if msg.Successful != nil && !msg.OK() {
			c.log.Warn("subscription request failed", "error", msg.Error)
		}

	default:
		c.log.Debug("ignoring message", "channel", msg.Channel)
	}
	return nil, nil
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, dxfeed.ErrMalformedBatch):
		return "malformed_batch"
	case errors.Is(err, dxfeed.ErrUnknownSchema):
		return "unknown_schema"
	default:
		return "malformed_payload"
	}
}

// close sends a close frame and releases the transport.
func (c *conn) close() {
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.ws.Close()
}
