package discord

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotReady is returned by sends attempted before Connect succeeded.
var ErrNotReady = errors.New("discord session is not ready")

// DeliveryError reports a message that could not be posted.
type DeliveryError struct {
	Kind      string
	ChannelID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("discord: deliver %s notification to channel %s: %v", e.Kind, e.ChannelID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// ReadyTimeoutError reports that the gateway never signalled readiness.
type ReadyTimeoutError struct {
	Timeout time.Duration
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("discord: session not ready after %s", e.Timeout)
}
