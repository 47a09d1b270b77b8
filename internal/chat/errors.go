package chat

import (
	"errors"
	"fmt"

	"coursechat/pkg/interfaces"
)

var (
	// ErrUnauthorized matches interfaces.ErrUnauthorized under errors.Is
	ErrUnauthorized = fmt.Errorf("%w: sender is not authenticated", interfaces.ErrUnauthorized)

	ErrPersistence           = errors.New("failed to persist chat message")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrChannelStopped        = errors.New("chat channel is not running")
	ErrChannelAlreadyRunning = errors.New("chat channel is already running")
	ErrHandleClosed          = errors.New("handle is closed")
	ErrHandleBackedUp        = errors.New("handle delivery queue is full")
	ErrInvalidPolicy         = errors.New("unknown revocation policy")
)
