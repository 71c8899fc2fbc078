package quant

import "errors"

var (
	ErrUnknownQType    = errors.New("quant: unknown qtype")
	ErrUnsupportedAxis = errors.New("quant: axis must be 0 or -1")
)
