// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package tpm12

import (
	"errors"
	"fmt"

	"github.com/google/go-tpm/tpmutil"
)

var (
	// ErrTruncated is returned when a frame is shorter than its layout requires.
	ErrTruncated = errors.New("truncated frame")
	// ErrTooLarge is returned when a payload exceeds the single transfer capacity.
	ErrTooLarge = errors.New("payload exceeds transfer capacity")
	// ErrSizeMismatch is returned when NV data does not match the region size.
	ErrSizeMismatch = errors.New("data size does not match NV region size")
)

// ErrorKind classifies a failed module command.
type ErrorKind int

const (
	// QueryFailed means the command never produced a usable response.
	QueryFailed ErrorKind = iota
	// CommandRejected means the module answered with a non-zero return code.
	CommandRejected
	// Busy means the module asked to retry later.
	Busy
)

func (k ErrorKind) String() string {
	switch k {
	case QueryFailed:
		return "query failed"
	case CommandRejected:
		return "command rejected"
	case Busy:
		return "busy"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error describes a failed module command.
type Error struct {
	Kind    ErrorKind
	Op      string
	Ordinal tpmutil.Command
	Code    tpmutil.ResponseCode
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case CommandRejected, Busy:
		return fmt.Sprintf("tpm %s (ordinal %#x): %s, return code %#x", e.Op, uint32(e.Ordinal), e.Kind, uint32(e.Code))
	default:
		return fmt.Sprintf("tpm %s (ordinal %#x): %s: %v", e.Op, uint32(e.Ordinal), e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a module error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var tpmErr *Error

	return errors.As(err, &tpmErr) && tpmErr.Kind == kind
}
