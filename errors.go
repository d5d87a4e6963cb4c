package zedstore

import (
	"errors"

	"zedstore/internal/base"
	"zedstore/internal/storage"
)

var (
	ErrStoreClosed = errors.New("store is closed")
	ErrNoRowHeader = errors.New("first attribute requires a row header")

	// ErrValueTooLarge marks a value too big for an empty page.
	// Oversized-value spilling is not supported.
	ErrValueTooLarge = errors.New("value does not fit on an empty page")

	// ErrCompressedDelete marks a delete that landed inside a
	// compressed run, which is not supported; the row is skipped.
	ErrCompressedDelete = errors.New("delete target inside compressed run not supported")

	ErrCorrupted       = base.ErrCorrupted
	ErrPageOverflow    = base.ErrPageOverflow
	ErrInvalidMagic    = base.ErrInvalidMagic
	ErrInvalidVersion  = base.ErrInvalidVersion
	ErrInvalidPageSize = base.ErrInvalidPageSize
	ErrInvalidChecksum = base.ErrInvalidChecksum

	ErrPageStoreClosed = storage.ErrClosed
)
