package exception

import "github.com/yanun0323/errors"

var (
	ErrQueueClosed    = errors.New("queue: closed")
	ErrDequeueTimeout = errors.New("queue: dequeue timed out")
)
