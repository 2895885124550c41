package state

import "errors"

var (
	ErrEncodeFailed      = errors.New("state: encode failed")
	ErrDecodeFailed      = errors.New("state: decode failed")
	ErrAtomicWriteFailed = errors.New("state: atomic write failed")
)
