package base

import "errors"

var (
	ErrCorrupted       = errors.New("tree corruption detected")
	ErrPageOverflow    = errors.New("page overflow")
	ErrInvalidOffset   = errors.New("invalid offset: out of bounds")
	ErrInvalidMagic    = errors.New("invalid magic number")
	ErrInvalidVersion  = errors.New("invalid format version")
	ErrInvalidPageSize = errors.New("invalid page size")
	ErrInvalidChecksum = errors.New("invalid checksum")
)
