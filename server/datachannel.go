package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// channelState is the lifecycle of a passive data channel.
type channelState int

const (
	channelNotStarted channelState = iota
	channelPrepared
	channelListening
	channelFinished
	channelError
)

func (c channelState) String() string {
	switch c {
	case channelNotStarted:
		return "not_started"
	case channelPrepared:
		return "prepared"
	case channelListening:
		return "listening"
	case channelFinished:
		return "finished"
	}
	return "error"
}

var (
	errChannelClosed   = errors.New("data channel closed")
	errChannelNotReady = errors.New("data channel not listening")
	errChannelUsed     = errors.New("data channel already used")
)

// portRange is an inclusive passive port range. The zero value means
// "any ephemeral port".
type portRange struct {
	min, max int
}

func (r portRange) set() bool {
	return r.min > 0 && r.max >= r.min
}

// passiveChannel accepts exactly one inbound data connection.
//
// prepare binds the listener and start runs the accept on its own goroutine.
// wait blocks on the result without polling. Once it has handed out a
// connection, or failed, the channel is spent.
type passiveChannel struct {
	mu    sync.Mutex
	state channelState
	ln    net.Listener
	conn  net.Conn
	err   error
	done  chan struct{}
}

func newPassiveChannel() *passiveChannel {
	return &passiveChannel{done: make(chan struct{})}
}

// prepare binds a listener on ip. Ports in r are tried round-robin starting
// after *next; without a range the kernel picks one.
func (c *passiveChannel) prepare(ip net.IP, r portRange, next *atomic.Int32) (*net.TCPAddr, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelNotStarted {
		return nil, fmt.Errorf("prepare in state %s", c.state)
	}

	ln, err := listenPassive(ip, r, next)
	if err != nil {
		c.state, c.err = channelError, err
		return nil, err
	}
	c.ln = ln
	c.state = channelPrepared
	return ln.Addr().(*net.TCPAddr), nil
}

func listenPassive(ip net.IP, r portRange, next *atomic.Int32) (net.Listener, error) {
	host := ip.String()
	if !r.set() {
		return net.Listen("tcp", net.JoinHostPort(host, "0"))
	}

	size := uint32(r.max - r.min + 1)
	start := uint32(next.Add(1))
	var lastErr error
	for i := uint32(0); i < size; i++ {
		port := r.min + int((start+i)%size)
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no free passive port in %d-%d: %w", r.min, r.max, lastErr)
}

// start begins accepting in the background.
func (c *passiveChannel) start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != channelPrepared {
		return fmt.Errorf("start in state %s", c.state)
	}
	c.state = channelListening
	go c.accept(c.ln)
	return nil
}

func (c *passiveChannel) accept(ln net.Listener) {
	conn, err := ln.Accept()
	ln.Close()

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(c.done)

	if c.state != channelListening {
		// Closed while we were blocked.
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.state, c.err = channelError, err
		return
	}
	c.state, c.conn = channelFinished, conn
}

// wait returns the accepted connection, blocking until the client connects,
// the accept fails or ctx ends. Ending ctx closes the channel.
func (c *passiveChannel) wait(ctx context.Context) (net.Conn, error) {
	c.mu.Lock()
	switch c.state {
	case channelNotStarted, channelPrepared:
		c.mu.Unlock()
		return nil, errChannelNotReady
	case channelError:
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
		c.close()
		return nil, fmt.Errorf("waiting for data connection: %w", ctx.Err())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == channelError {
		return nil, c.err
	}
	if c.conn == nil {
		return nil, errChannelUsed
	}
	conn := c.conn
	c.conn = nil
	return conn, nil
}

// close invalidates the channel. A connection that was accepted but never
// claimed is closed too.
func (c *passiveChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case channelPrepared, channelListening, channelNotStarted:
		c.state, c.err = channelError, errChannelClosed
	}
	if c.ln != nil {
		c.ln.Close()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *passiveChannel) currentState() channelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// dialActive opens an outbound data connection.
func dialActive(ctx context.Context, addr *net.TCPAddr, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout}
	return d.DialContext(ctx, "tcp", addr.String())
}
