package kdht

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// newSinkAddr 返回一个只收不答的 UDP 地址
func newSinkAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.LocalAddr().String()
}
