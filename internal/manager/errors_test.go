package manager

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o wait expired" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyTypedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want FailureClass
	}{
		{&net.DNSError{Err: "no such host", Name: "x", IsNotFound: true}, FailureDNS},
		{fmt.Errorf("dial: %w", syscall.ECONNREFUSED), FailureRefused},
		{context.DeadlineExceeded, FailureTimeout},
		{fmt.Errorf("connect: %w", context.DeadlineExceeded), FailureTimeout},
		{&net.OpError{Op: "read", Net: "tcp", Err: timeoutErr{}}, FailureTimeout},
	}
	for i, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Errorf("case %d (%v): got %s, want %s", i, c.err, got, c.want)
		}
	}
}

func TestClassifyTextualErrors(t *testing.T) {
	cases := []struct {
		text string
		want FailureClass
	}{
		{"getaddrinfo ENOTFOUND mc.example.com", FailureDNS},
		{"connect ECONNREFUSED 1.2.3.4:25565", FailureRefused},
		{"connect ETIMEDOUT 1.2.3.4:25565", FailureTimeout},
		{"You are not white-listed on this server!", FailureAuthRejected},
		{"You are banned from this server", FailureAuthRejected},
		{"disconnect.loginFailed", FailureAuthRejected},
		{"The server is full", FailureAuthRejected},
		{"client not authenticated with Xbox Live", FailureAuthRejected},
		{"Outdated client! Please use 1.21.4", FailureUnsupportedVersion},
		{"unsupported protocol version 999", FailureUnsupportedVersion},
		{"something odd happened", FailureGeneric},
	}
	for _, c := range cases {
		if got := Classify(errors.New(c.text)); got != c.want {
			t.Errorf("%q: got %s, want %s", c.text, got, c.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	retryable := []FailureClass{FailureGeneric, FailureDNS, FailureRefused, FailureTimeout}
	for _, c := range retryable {
		if !c.Retryable() {
			t.Errorf("%s should be retryable", c)
		}
	}
	for _, c := range []FailureClass{FailureAuthRejected, FailureUnsupportedVersion} {
		if c.Retryable() {
			t.Errorf("%s should not be retryable", c)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if got := Classify(nil); got != FailureGeneric {
		t.Errorf("Classify(nil) = %s", got)
	}
}
