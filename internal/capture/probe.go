package capture

import (
	"context"
	"net"
	"time"
)

// Prober checks whether a camera endpoint is reachable before a capture
// attempt.
type Prober interface {
	Reachable(ctx context.Context, address string, timeout time.Duration) bool
}

// TCPProbe dials the camera's TCP endpoint. A completed handshake within the
// timeout counts as reachable.
type TCPProbe struct{}

// Reachable implements Prober.
func (TCPProbe) Reachable(ctx context.Context, address string, timeout time.Duration) bool {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
