package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAddrReportsNetworkAndString(t *testing.T) {
	a := NewFakeAddr("udp", "10.0.0.1:9000")
	assert.Equal(t, "udp", a.Network())
	assert.Equal(t, "10.0.0.1:9000", a.String())

	tcp := TCPAddr("192.0.2.1:5555")
	assert.Equal(t, "tcp", tcp.Network())
	assert.Equal(t, "192.0.2.1:5555", tcp.String())
}

func TestConnWithDeadlineTimesOutOnIdleRead(t *testing.T) {
	client, _ := PipeConn(t)
	wrapped := NewConnWithDeadline(client, 20*time.Millisecond)

	_, err := wrapped.Read(make([]byte, 1))
	require.Error(t, err)
	assert.True(t, isTimeout(err), "expected a deadline-exceeded error, got %v", err)
}

func isTimeout(err error) bool {
	type timeout interface{ Timeout() bool }
	te, ok := err.(timeout)
	return ok && te.Timeout()
}
