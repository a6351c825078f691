package exception

import "github.com/yanun0323/errors"

var (
	ErrUnsupportedFieldType = errors.New("schema: unsupported field type")
	ErrMissingField         = errors.New("schema: field missing from payload")
	ErrBadPrimaryKey        = errors.New("schema: primary key does not match any field alias")
)
