// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package tpm12

import (
	"fmt"

	"github.com/google/go-tpm/tpmutil"
)

// Physical presence bits accepted by TSC_PhysicalPresence.
const (
	PhysicalPresenceLock    uint16 = 0x0004
	PhysicalPresencePresent uint16 = 0x0008
)

// BuildNVRead encodes an NV_ReadValue command without authorization.
func BuildNVRead(index, offset, size uint32) ([]byte, error) {
	if size > MaxNVSize {
		return nil, fmt.Errorf("%w: NV read of %d bytes", ErrTooLarge, size)
	}

	return buildCommand(OrdNVReadValue, index, offset, size)
}

// ParseNVRead decodes the body of an NV_ReadValue response.
// The size returned by the module is authoritative.
func ParseNVRead(body []byte) ([]byte, error) {
	var size uint32
	if _, err := tpmutil.Unpack(body, &size); err != nil {
		return nil, fmt.Errorf("%w: missing NV data size: %v", ErrTruncated, err)
	}

	if size > MaxNVSize {
		return nil, fmt.Errorf("%w: NV data of %d bytes", ErrTooLarge, size)
	}

	if size > uint32(len(body)-4) {
		return nil, fmt.Errorf("%w: NV data size %d, %d bytes available", ErrTruncated, size, len(body)-4)
	}

	data := make([]byte, size)
	copy(data, body[4:])

	return data, nil
}

// BuildNVWrite encodes an NV_WriteValue command without authorization.
func BuildNVWrite(index, offset uint32, data []byte) ([]byte, error) {
	if len(data) > MaxNVSize {
		return nil, fmt.Errorf("%w: NV write of %d bytes", ErrTooLarge, len(data))
	}

	return buildCommand(OrdNVWriteValue, index, offset, uint32(len(data)), tpmutil.RawBytes(data))
}

// BuildPhysicalPresence encodes a TSC_PhysicalPresence command.
func BuildPhysicalPresence(bits uint16) ([]byte, error) {
	return buildCommand(OrdTSCPhysicalPresence, bits)
}

// BuildContinueSelfTest encodes a ContinueSelfTest command.
func BuildContinueSelfTest() ([]byte, error) {
	return buildCommand(OrdContinueSelfTest)
}

// BuildPhysicalEnable encodes a PhysicalEnable command.
func BuildPhysicalEnable() ([]byte, error) {
	return buildCommand(OrdPhysicalEnable)
}

// BuildSetActive encodes a PhysicalSetDeactivated command. The wire field is
// "deactivated", so activating the module sends zero.
func BuildSetActive(active bool) ([]byte, error) {
	return buildCommand(OrdPhysicalSetDeactivated, !active)
}
