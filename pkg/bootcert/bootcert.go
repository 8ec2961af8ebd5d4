// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bootcert handles the boot certificate, the anti-rollback validity
// window kept in TPM NV storage, and the provision packet region next to it.
package bootcert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kairos-io/go-tdlock/pkg/constants"
)

var (
	// ErrNotProvisioned is returned for an erased or never written certificate.
	ErrNotProvisioned = errors.New("boot certificate not provisioned")
	// ErrInvalidLayout is returned when the region is too short to hold a certificate.
	ErrInvalidLayout = errors.New("invalid boot certificate layout")
)

// Certificate is the 24 byte record stored at constants.BootCertificateIndex.
// Fields are little-endian, as written by the provisioning tool.
type Certificate struct {
	BootTime   uint32
	RangeStart uint32
	RangeEnd   uint32
	HardwareID [12]byte
}

// Parse decodes a certificate and checks it was provisioned.
func Parse(raw []byte) (Certificate, error) {
	var c Certificate

	if len(raw) < constants.BootCertificateSize {
		return c, fmt.Errorf("%w: %d bytes", ErrInvalidLayout, len(raw))
	}

	raw = raw[:constants.BootCertificateSize]

	if isFilled(raw, 0x00) {
		return c, fmt.Errorf("%w: region is zeroed", ErrNotProvisioned)
	}

	// range start and end are both 0xFFFFFFFF on a region nobody wrote to
	if isFilled(raw[4:12], 0xFF) {
		return c, fmt.Errorf("%w: range is erased", ErrNotProvisioned)
	}

	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrInvalidLayout, err)
	}

	return c, nil
}

// Marshal encodes the certificate into its 24 byte NV layout.
func (c Certificate) Marshal() []byte {
	var buf bytes.Buffer

	// writing fixed size fields to a bytes.Buffer cannot fail
	_ = binary.Write(&buf, binary.LittleEndian, c)

	return buf.Bytes()
}

// Span is the length of the validity window.
func (c Certificate) Span() uint32 {
	return c.RangeEnd - c.RangeStart
}

// Permanent reports whether the certificate never expires.
func (c Certificate) Permanent() bool {
	return c.Span() > constants.PermanentSpanYears*constants.TicksPerYear
}

// Locked reports whether the window collapsed.
func (c Certificate) Locked() bool {
	return c.RangeStart == c.RangeEnd
}

func (c Certificate) String() string {
	return fmt.Sprintf("[%d,%d] boot time %d", c.RangeStart, c.RangeEnd, c.BootTime)
}

// PacketPending reports whether the provision packet region holds a packet.
// The region is empty only when the unlock code type and value are uniformly
// 0x00 or uniformly 0xFF; a mix counts as a pending packet, so does a short region.
func PacketPending(raw []byte) bool {
	n := constants.UnlockCodeLength + 1
	if len(raw) < n {
		return true
	}

	code := raw[:n]

	return !isFilled(code, 0x00) && !isFilled(code, 0xFF)
}

func isFilled(b []byte, v byte) bool {
	for _, x := range b {
		if x != v {
			return false
		}
	}

	return true
}
