package exception

import "github.com/yanun0323/errors"

var (
	ErrStreamClosed    = errors.New("stream: supervisor closed")
	ErrNilProvider     = errors.New("stream: nil provider")
	ErrNilCallback     = errors.New("stream: nil message callback")
	ErrEmptyStreamName = errors.New("stream: empty stream name")
)
