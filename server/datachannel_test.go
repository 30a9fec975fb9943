package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var loopback = net.IPv4(127, 0, 0, 1)

func TestPassiveChannelAccept(t *testing.T) {
	t.Parallel()

	ch := newPassiveChannel()
	assert.Equal(t, channelNotStarted, ch.currentState())

	var next atomic.Int32
	addr, err := ch.prepare(loopback, portRange{}, &next)
	require.NoError(t, err)
	assert.Equal(t, channelPrepared, ch.currentState())

	_, err = ch.wait(context.Background())
	assert.ErrorIs(t, err, errChannelNotReady)

	require.NoError(t, ch.start())
	assert.Equal(t, channelListening, ch.currentState())

	client, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, err := ch.wait(ctx)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, channelFinished, ch.currentState())

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	// The channel hands out a single connection.
	_, err = ch.wait(ctx)
	assert.ErrorIs(t, err, errChannelUsed)
}

func TestPassiveChannelStateErrors(t *testing.T) {
	t.Parallel()

	var next atomic.Int32
	ch := newPassiveChannel()
	assert.Error(t, ch.start(), "start before prepare")

	_, err := ch.prepare(loopback, portRange{}, &next)
	require.NoError(t, err)
	defer ch.close()
	_, err = ch.prepare(loopback, portRange{}, &next)
	assert.Error(t, err, "second prepare")
}

func TestPassiveChannelClose(t *testing.T) {
	t.Parallel()

	var next atomic.Int32
	ch := newPassiveChannel()
	addr, err := ch.prepare(loopback, portRange{}, &next)
	require.NoError(t, err)
	require.NoError(t, ch.start())

	result := make(chan error, 1)
	go func() {
		_, err := ch.wait(context.Background())
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	ch.close()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, errChannelClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return after close")
	}
	assert.Equal(t, channelError, ch.currentState())

	_, err = ch.wait(context.Background())
	assert.ErrorIs(t, err, errChannelClosed)

	// The port is released.
	_, err = net.DialTimeout("tcp", addr.String(), 200*time.Millisecond)
	assert.Error(t, err)
}

func TestPassiveChannelWaitTimeout(t *testing.T) {
	t.Parallel()

	var next atomic.Int32
	ch := newPassiveChannel()
	_, err := ch.prepare(loopback, portRange{}, &next)
	require.NoError(t, err)
	require.NoError(t, ch.start())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = ch.wait(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, channelError, ch.currentState())
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestPassiveChannelPortRange(t *testing.T) {
	t.Parallel()

	port := freePort(t)
	r := portRange{min: port, max: port}
	var next atomic.Int32

	first := newPassiveChannel()
	addr, err := first.prepare(loopback, r, &next)
	require.NoError(t, err)
	defer first.close()
	assert.Equal(t, port, addr.Port)

	// The only port in the range is held by the first channel.
	second := newPassiveChannel()
	_, err = second.prepare(loopback, r, &next)
	assert.Error(t, err)
	assert.Equal(t, channelError, second.currentState())
}

func TestPortRangeSet(t *testing.T) {
	assert.False(t, portRange{}.set())
	assert.False(t, portRange{min: 10, max: 5}.set())
	assert.True(t, portRange{min: 10, max: 10}.set())
}
