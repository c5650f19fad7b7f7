package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/boardsync/internal/types"
)

const (
	opcodeContinuation = 0x0
	opcodeText         = 0x1
	opcodeBinary       = 0x2
	opcodeClose        = 0x8
	opcodePing         = 0x9
	opcodePong         = 0xA

	closeNormalClosure       = 1000
	closeGoingAway           = 1001
	closeInternalServerError = 1011
	closeTryAgainLater       = 1013
)

var errSendBufferFull = errors.New("send buffer full")

type connectionOptions struct {
	heartbeatInterval  time.Duration
	heartbeatTolerance int
	sendBufferSize     int
	writeTimeout       time.Duration
}

// Hooks let the relay layer react to connection traffic. OnText receives
// JSON protocol frames, OnBinary raw snapshot frames. Returning an error
// from a handler closes the connection.
type Hooks struct {
	OnText       func(ctx context.Context, conn *Connection, payload []byte) error
	OnBinary     func(ctx context.Context, conn *Connection, payload []byte) error
	OnConnect    func(ctx context.Context, conn *Connection) error
	OnDisconnect func(conn *Connection)
}

// Connection is one upgraded WebSocket peer. Frames are written by a single
// writer goroutine fed from a bounded send channel, pings keep the link
// verified, and a close is idempotent.
type Connection struct {
	conn      net.Conn
	peerID    types.PeerID
	logger    zerolog.Logger
	send      chan outboundMessage
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}

	opts connectionOptions

	lastPong atomic.Int64
	onClose  func()
}

type outboundMessage struct {
	opcode  byte
	payload []byte
}

func newConnection(netConn net.Conn, peerID types.PeerID, logger zerolog.Logger, opts connectionOptions, onClose func()) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:    netConn,
		peerID:  peerID,
		logger:  logger,
		send:    make(chan outboundMessage, opts.sendBufferSize),
		ctx:     ctx,
		cancel:  cancel,
		closed:  make(chan struct{}),
		opts:    opts,
		onClose: onClose,
	}
	c.lastPong.Store(time.Now().UnixNano())
	return c
}

// PeerID returns the relay-assigned connection identifier.
func (c *Connection) PeerID() types.PeerID { return c.peerID }

// Context exposes the lifecycle context for handlers.
func (c *Connection) Context() context.Context { return c.ctx }

// SendText enqueues a JSON protocol frame.
func (c *Connection) SendText(payload []byte) error {
	return c.enqueue(outboundMessage{opcode: opcodeText, payload: payload})
}

func (c *Connection) enqueue(msg outboundMessage) error {
	if c.ctx.Err() != nil {
		return c.ctx.Err()
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn().Msg("send buffer full; closing connection")
		c.closeWithFrame(closeTryAgainLater, "backpressure")
		return errSendBufferFull
	}
}

// Run drives the read, write, and heartbeat pumps until the peer goes away.
func (c *Connection) Run(hooks Hooks) {
	if hooks.OnConnect != nil {
		if err := hooks.OnConnect(c.ctx, c); err != nil {
			c.logger.Debug().Err(err).Msg("connect hook rejected connection")
			c.Close()
			if hooks.OnDisconnect != nil {
				hooks.OnDisconnect(c)
			}
			return
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()
	go func() {
		defer wg.Done()
		c.heartbeatLoop()
	}()

	if err := c.readLoop(hooks); err != nil {
		c.logger.Debug().Err(err).Msg("read loop exited")
	}
	c.Close()
	wg.Wait()
	if hooks.OnDisconnect != nil {
		hooks.OnDisconnect(c)
	}
}

// Close tears the connection down once; safe to call from any goroutine.
// The send channel is never closed: feed pumps may still be enqueueing
// when a disconnect races in-flight room traffic, and those sends must
// fail with the context error instead of panicking.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.Close()
		close(c.closed)
		if c.onClose != nil {
			c.onClose()
		}
	})
}

func (c *Connection) readLoop(hooks Hooks) error {
	for {
		select {
		case <-c.ctx.Done():
			return c.ctx.Err()
		default:
		}

		opcode, payload, err := readFrame(c.conn)
		if err != nil {
			return err
		}

		switch opcode {
		case opcodeText:
			gatewayFrames.WithLabelValues("text").Inc()
			if hooks.OnText != nil {
				if err := hooks.OnText(c.ctx, c, payload); err != nil {
					c.closeWithFrame(closeInternalServerError, "handler error")
					return err
				}
			}
		case opcodeBinary:
			gatewayFrames.WithLabelValues("binary").Inc()
			if hooks.OnBinary != nil {
				if err := hooks.OnBinary(c.ctx, c, payload); err != nil {
					c.closeWithFrame(closeInternalServerError, "handler error")
					return err
				}
			}
		case opcodeClose:
			c.closeWithFrame(closeNormalClosure, "bye")
			return nil
		case opcodePing:
			_ = c.enqueueControl(opcodePong, payload)
		case opcodePong:
			c.lastPong.Store(time.Now().UnixNano())
		case opcodeContinuation:
			return fmt.Errorf("fragmented frames not supported")
		default:
			return fmt.Errorf("unsupported opcode %d", opcode)
		}
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			if err := writeFrame(c.conn, msg.opcode, msg.payload, c.opts.writeTimeout); err != nil {
				c.logger.Debug().Err(err).Msg("write loop error")
				c.closeWithFrame(closeInternalServerError, "write error")
				return
			}
		}
	}
}

func (c *Connection) heartbeatLoop() {
	if c.opts.heartbeatInterval <= 0 {
		return
	}
	ticker := time.NewTicker(c.opts.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.enqueueControl(opcodePing, nil); err != nil {
				c.logger.Debug().Err(err).Msg("heartbeat ping failed")
				c.closeWithFrame(closeGoingAway, "ping failed")
				return
			}
			if c.opts.heartbeatTolerance > 0 {
				last := time.Unix(0, c.lastPong.Load())
				allowed := c.opts.heartbeatInterval * time.Duration(c.opts.heartbeatTolerance)
				if time.Since(last) > allowed {
					c.logger.Debug().Msg("heartbeat tolerance exceeded")
					c.closeWithFrame(closeGoingAway, "missed heartbeats")
					return
				}
			}
		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) closeWithFrame(code int, reason string) {
	_ = c.enqueueControl(opcodeClose, encodeClosePayload(code, reason))
}

func (c *Connection) enqueueControl(opcode byte, payload []byte) error {
	select {
	case c.send <- outboundMessage{opcode: opcode, payload: payload}:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		return errSendBufferFull
	}
}

func encodeClosePayload(code int, reason string) []byte {
	if len(reason) > 123 {
		reason = reason[:123]
	}
	payload := make([]byte, 2+len(reason))
	payload[0] = byte(code >> 8)
	payload[1] = byte(code)
	copy(payload[2:], reason)
	return payload
}
