// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package tpm12 implements the subset of the TPM 1.2 command set needed to
// evaluate the theft deterrent state: capability queries, NV storage access and
// the physical presence / activation commands.
//
// Frames are built and parsed with tpmutil, so every integer is big-endian and
// the length field is always computed from the encoded bytes.
package tpm12

import (
	"encoding/binary"
	"fmt"

	"github.com/google/go-tpm/tpmutil"
)

// Command tags.
const (
	TagRQUCommand tpmutil.Tag = 0x00C1
	TagRSPCommand tpmutil.Tag = 0x00C4
)

// Supported ordinals.
const (
	OrdContinueSelfTest       tpmutil.Command = 0x00000053
	OrdGetCapability          tpmutil.Command = 0x00000065
	OrdPhysicalEnable         tpmutil.Command = 0x0000006F
	OrdPhysicalSetDeactivated tpmutil.Command = 0x00000072
	OrdNVWriteValue           tpmutil.Command = 0x000000CD
	OrdNVReadValue            tpmutil.Command = 0x000000CF
	OrdTSCPhysicalPresence    tpmutil.Command = 0x4000000A
)

// Response codes with a dedicated meaning.
const (
	RCSuccess = tpmutil.RCSuccess
	// RCRetry is returned while the TPM is busy with a self test.
	RCRetry tpmutil.ResponseCode = 0x800
)

// Size limits.
const (
	// HeaderSize is the size of the tag, length and ordinal/return code.
	HeaderSize = 10
	// MaxNVSize bounds a single NV read or write.
	MaxNVSize = 800
	// MaxCommandSize is the largest frame the encoder produces, an NV write of MaxNVSize bytes.
	MaxCommandSize = HeaderSize + 12 + MaxNVSize
	// CapabilityResponseSize bounds a capability response.
	CapabilityResponseSize = 200
)

type commandHeader struct {
	Tag  tpmutil.Tag
	Size uint32
	Cmd  tpmutil.Command
}

type responseHeader struct {
	Tag  tpmutil.Tag
	Size uint32
	Res  tpmutil.ResponseCode
}

// Response is a decoded response frame.
type Response struct {
	Tag  tpmutil.Tag
	Code tpmutil.ResponseCode
	// Body holds the bytes following the header, bounded by the length field.
	Body []byte
}

// buildCommand packs params behind a request header whose length covers the whole frame.
func buildCommand(cmd tpmutil.Command, params ...interface{}) ([]byte, error) {
	body, err := tpmutil.Pack(params...)
	if err != nil {
		return nil, fmt.Errorf("couldn't pack command body: %w", err)
	}

	if HeaderSize+len(body) > MaxCommandSize {
		return nil, fmt.Errorf("%w: command of %d bytes", ErrTooLarge, HeaderSize+len(body))
	}

	header, err := tpmutil.Pack(commandHeader{
		Tag:  TagRQUCommand,
		Size: uint32(HeaderSize + len(body)),
		Cmd:  cmd,
	})
	if err != nil {
		return nil, fmt.Errorf("couldn't pack command header: %w", err)
	}

	return append(header, body...), nil
}

// ParseResponse splits a response frame into its header fields and body.
func ParseResponse(b []byte) (*Response, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: response of %d bytes", ErrTruncated, len(b))
	}

	var hdr responseHeader
	if _, err := tpmutil.Unpack(b[:HeaderSize], &hdr); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	if hdr.Size < HeaderSize || hdr.Size > uint32(len(b)) {
		return nil, fmt.Errorf("%w: header claims %d bytes, got %d", ErrTruncated, hdr.Size, len(b))
	}

	return &Response{
		Tag:  hdr.Tag,
		Code: hdr.Res,
		Body: b[HeaderSize:hdr.Size],
	}, nil
}

// ordinalOf reads the ordinal of an encoded command, zero if the frame is too short.
func ordinalOf(cmd []byte) tpmutil.Command {
	if len(cmd) < HeaderSize {
		return 0
	}

	return tpmutil.Command(binary.BigEndian.Uint32(cmd[6:HeaderSize]))
}
