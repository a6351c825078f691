package exception

import "github.com/yanun0323/errors"

var (
	ErrLivenessTimeout    = errors.New("process: no message from any stream within the dequeue timeout")
	ErrReconnectExhausted = errors.New("storage: reconnect attempts exhausted")
	ErrUnknownRuleSet     = errors.New("schema: no rule set for table category")
)
