package mcproto

import (
	"context"
	"net"
	"time"

	"github.com/sandertv/go-raknet"

	"github.com/craftbot/gocraft/internal/domain"
)

// DefaultProbeTimeout bounds a single reachability check.
const DefaultProbeTimeout = 3 * time.Second

// ProbeResult is always returned, never an error: "offline" is a normal
// answer, not a failure.
type ProbeResult struct {
	Online bool   `json:"online"`
	RTTMs  int64  `json:"rtt_ms,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Probe performs a lightweight reachability check. Java: a raw TCP connect is
// enough, success regardless of handshake means online. Bedrock: one RakNet
// unconnected ping; any reply before the deadline means online, silence means
// offline.
func Probe(ctx context.Context, host string, port int, edition domain.Edition, timeout time.Duration) ProbeResult {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	addr := domain.JoinHostPort(host, port)
	start := time.Now()

	switch edition {
	case domain.EditionBedrock:
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if _, err := raknet.PingContext(pingCtx, addr); err != nil {
			// silence on UDP is plain "offline"
			return ProbeResult{Online: false, Error: probeErrText(err)}
		}
		return ProbeResult{Online: true, RTTMs: time.Since(start).Milliseconds()}
	default:
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return ProbeResult{Online: false, Error: probeErrText(err)}
		}
		_ = conn.Close()
		return ProbeResult{Online: true, RTTMs: time.Since(start).Milliseconds()}
	}
}

func probeErrText(err error) string {
	if err == nil {
		return ""
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return "timeout"
	}
	return err.Error()
}
