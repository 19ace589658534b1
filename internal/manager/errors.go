package manager

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
)

// API errors returned to callers (telegram front-end / control plane). These
// are the only errors the front-ends pattern-match on.
var (
	ErrBotNotFound    = errors.New("bot not found")
	ErrNotOwner       = errors.New("bot belongs to another user")
	ErrAlreadyRunning = errors.New("bot already running")
	ErrNotConnected   = errors.New("bot not connected")
	ErrQuotaExceeded  = errors.New("per-user bot quota exceeded")
	ErrDuplicateName  = errors.New("bot name already in use")
	ErrSessionLimit   = errors.New("global session limit reached")
	ErrClosed         = errors.New("manager is shut down")
)

// FailureClass buckets connection/session failures. Only the class decides
// whether a reconnect is attempted; the raw error text is kept for the record.
type FailureClass int

const (
	FailureGeneric FailureClass = iota
	FailureDNS
	FailureRefused
	FailureTimeout
	FailureAuthRejected
	FailureUnsupportedVersion
)

func (c FailureClass) String() string {
	switch c {
	case FailureDNS:
		return "DNS_NOT_FOUND"
	case FailureRefused:
		return "CONNECTION_REFUSED"
	case FailureTimeout:
		return "TIMEOUT"
	case FailureAuthRejected:
		return "AUTH_REJECTED"
	case FailureUnsupportedVersion:
		return "UNSUPPORTED_VERSION"
	default:
		return "GENERIC"
	}
}

// Retryable reports whether a failure of this class is worth reconnecting
// for. Auth rejections and version mismatches will fail identically on every
// attempt, so retrying them only spams the target server.
func (c FailureClass) Retryable() bool {
	return c != FailureAuthRejected && c != FailureUnsupportedVersion
}

// UserMessage is the operator-facing description shown in chat replies and
// stored in last_error.
func (c FailureClass) UserMessage() string {
	switch c {
	case FailureDNS:
		return "server address not found (check the hostname)"
	case FailureRefused:
		return "connection refused (server offline or wrong port)"
	case FailureTimeout:
		return "connection timed out (server unreachable)"
	case FailureAuthRejected:
		return "server rejected the bot (whitelist, ban or auth mode)"
	case FailureUnsupportedVersion:
		return "protocol version not accepted by the server"
	default:
		return "connection failed"
	}
}

var authRejectedMarkers = []string{
	"whitelist", "white-list", "banned", "you are banned",
	"notauthenticated", "not authenticated", "invalid session",
	"server full", "server is full", "serverfull", "disconnect.loginfailed",
}

var versionMarkers = []string{
	"unsupported protocol", "unsupported version", "incompatible",
	"outdated client", "outdated server", "protocol version",
}

// Classify maps an arbitrary dial/session error onto a FailureClass. Typed
// errors are preferred; the string markers cover reasons that arrive as plain
// disconnect text from the server.
func Classify(err error) FailureClass {
	if err == nil {
		return FailureGeneric
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailureRefused
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailureTimeout
	}

	msg := strings.ToLower(err.Error())
	for _, m := range versionMarkers {
		if strings.Contains(msg, m) {
			return FailureUnsupportedVersion
		}
	}
	for _, m := range authRejectedMarkers {
		if strings.Contains(msg, m) {
			return FailureAuthRejected
		}
	}
	switch {
	case strings.Contains(msg, "no such host"), strings.Contains(msg, "enotfound"):
		return FailureDNS
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "econnrefused"):
		return FailureRefused
	case strings.Contains(msg, "timed out"), strings.Contains(msg, "timeout"), strings.Contains(msg, "etimedout"):
		return FailureTimeout
	}
	return FailureGeneric
}
