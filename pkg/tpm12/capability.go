// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package tpm12

import (
	"fmt"
	"strings"

	"github.com/google/go-tpm/tpmutil"
)

// CapabilityKind selects what a GetCapability command asks for.
type CapabilityKind int

const (
	CapVersion CapabilityKind = iota
	CapVersion12
	CapTimeouts
	CapDurations
	CapPermanentFlags
	CapVolatileFlags
	CapOwner
	CapPCRCount
	CapManufacturer
)

// Capability areas and sub capabilities.
const (
	capAreaVersion    uint32 = 0x06
	capAreaFlag       uint32 = 0x04
	capAreaProperty   uint32 = 0x05
	capAreaVersionVal uint32 = 0x1A

	subCapPCR          uint32 = 0x101
	subCapManufacturer uint32 = 0x103
	subCapFlagPerm     uint32 = 0x108
	subCapFlagVolatile uint32 = 0x109
	subCapOwner        uint32 = 0x111
	subCapTISTimeout   uint32 = 0x115
	subCapDuration     uint32 = 0x120
)

func (k CapabilityKind) String() string {
	switch k {
	case CapVersion:
		return "version"
	case CapVersion12:
		return "version 1.2"
	case CapTimeouts:
		return "timeouts"
	case CapDurations:
		return "durations"
	case CapPermanentFlags:
		return "permanent flags"
	case CapVolatileFlags:
		return "volatile flags"
	case CapOwner:
		return "owner"
	case CapPCRCount:
		return "pcr count"
	case CapManufacturer:
		return "manufacturer"
	default:
		return fmt.Sprintf("CapabilityKind(%d)", int(k))
	}
}

// area returns the capability area and, for property and flag queries, the sub capability.
func (k CapabilityKind) area() (area uint32, sub uint32, hasSub bool, err error) {
	switch k {
	case CapVersion:
		return capAreaVersion, 0, false, nil
	case CapVersion12:
		return capAreaVersionVal, 0, false, nil
	case CapTimeouts:
		return capAreaProperty, subCapTISTimeout, true, nil
	case CapDurations:
		return capAreaProperty, subCapDuration, true, nil
	case CapPermanentFlags:
		return capAreaFlag, subCapFlagPerm, true, nil
	case CapVolatileFlags:
		return capAreaFlag, subCapFlagVolatile, true, nil
	case CapOwner:
		return capAreaProperty, subCapOwner, true, nil
	case CapPCRCount:
		return capAreaProperty, subCapPCR, true, nil
	case CapManufacturer:
		return capAreaProperty, subCapManufacturer, true, nil
	default:
		return 0, 0, false, fmt.Errorf("unknown capability kind %d", int(k))
	}
}

// Capability is a decoded GetCapability answer.
type Capability interface {
	Kind() CapabilityKind
}

// Version is the TPM 1.1 style version structure.
type Version struct {
	Major    uint8
	Minor    uint8
	RevMajor uint8
	RevMinor uint8
}

func (*Version) Kind() CapabilityKind { return CapVersion }

func (v *Version) String() string {
	return fmt.Sprintf("%d.%d rev %d.%d", v.Major, v.Minor, v.RevMajor, v.RevMinor)
}

// Version12 is the leading part of TPM_CAP_VERSION_INFO.
type Version12 struct {
	Tag uint16
	Version
}

func (*Version12) Kind() CapabilityKind { return CapVersion12 }

// Timeouts are the TIS timeouts A to D in microseconds.
type Timeouts struct {
	A uint32
	B uint32
	C uint32
	D uint32
}

func (*Timeouts) Kind() CapabilityKind { return CapTimeouts }

// Durations are the short, medium and long command durations in microseconds.
type Durations struct {
	Short  uint32
	Medium uint32
	Long   uint32
}

func (*Durations) Kind() CapabilityKind { return CapDurations }

// PermanentFlags mirrors TPM_PERMANENT_FLAGS.
type PermanentFlags struct {
	Tag                          uint16
	Disable                      bool
	Ownership                    bool
	Deactivated                  bool
	ReadPubek                    bool
	DisableOwnerClear            bool
	AllowMaintenance             bool
	PhysicalPresenceLifetimeLock bool
	PhysicalPresenceHWEnable     bool
	PhysicalPresenceCMDEnable    bool
	CEKPUsed                     bool
	TPMPost                      bool
	TPMPostLock                  bool
	FIPS                         bool
	Operator                     bool
	EnableRevokeEK               bool
	NVLocked                     bool
	ReadSRKPub                   bool
	TPMEstablished               bool
	MaintenanceDone              bool
	DisableFullDALogicInfo       bool
}

func (*PermanentFlags) Kind() CapabilityKind { return CapPermanentFlags }

// VolatileFlags mirrors TPM_STCLEAR_FLAGS.
type VolatileFlags struct {
	Tag                  uint16
	Deactivated          bool
	DisableForceClear    bool
	PhysicalPresence     bool
	PhysicalPresenceLock bool
	GlobalLock           bool
}

func (*VolatileFlags) Kind() CapabilityKind { return CapVolatileFlags }

// Owner reports whether an owner is installed.
type Owner struct {
	Owned bool
}

func (*Owner) Kind() CapabilityKind { return CapOwner }

// PCRCount is the number of PCRs.
type PCRCount struct {
	Count uint32
}

func (*PCRCount) Kind() CapabilityKind { return CapPCRCount }

// Manufacturer is the vendor identifier, four ASCII characters packed in a uint32.
type Manufacturer struct {
	ID uint32
}

func (*Manufacturer) Kind() CapabilityKind { return CapManufacturer }

func (m *Manufacturer) String() string {
	b := []byte{byte(m.ID >> 24), byte(m.ID >> 16), byte(m.ID >> 8), byte(m.ID)}

	return strings.TrimRight(string(b), "\x00 ")
}

func newCapability(kind CapabilityKind) (Capability, error) {
	switch kind {
	case CapVersion:
		return &Version{}, nil
	case CapVersion12:
		return &Version12{}, nil
	case CapTimeouts:
		return &Timeouts{}, nil
	case CapDurations:
		return &Durations{}, nil
	case CapPermanentFlags:
		return &PermanentFlags{}, nil
	case CapVolatileFlags:
		return &VolatileFlags{}, nil
	case CapOwner:
		return &Owner{}, nil
	case CapPCRCount:
		return &PCRCount{}, nil
	case CapManufacturer:
		return &Manufacturer{}, nil
	default:
		return nil, fmt.Errorf("unknown capability kind %d", int(kind))
	}
}

// BuildGetCapability encodes a GetCapability command for kind.
// Version queries carry no sub capability, every other kind carries a four byte one.
func BuildGetCapability(kind CapabilityKind) ([]byte, error) {
	area, sub, hasSub, err := kind.area()
	if err != nil {
		return nil, err
	}

	if !hasSub {
		return buildCommand(OrdGetCapability, area, uint32(0))
	}

	return buildCommand(OrdGetCapability, area, uint32(4), sub)
}

// DecodeCapability decodes the body of a GetCapability response.
// The body starts with the capability size; data beyond the fields this package
// knows about is ignored.
func DecodeCapability(kind CapabilityKind, body []byte) (Capability, error) {
	if len(body) > CapabilityResponseSize {
		return nil, fmt.Errorf("%w: capability response of %d bytes", ErrTooLarge, len(body))
	}

	var size uint32
	if _, err := tpmutil.Unpack(body, &size); err != nil {
		return nil, fmt.Errorf("%w: missing capability size: %v", ErrTruncated, err)
	}

	data := body[4:]
	if size > uint32(len(data)) {
		return nil, fmt.Errorf("%w: capability size %d, %d bytes available", ErrTruncated, size, len(data))
	}

	c, err := newCapability(kind)
	if err != nil {
		return nil, err
	}

	if _, err := tpmutil.Unpack(data[:size], c); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTruncated, kind, err)
	}

	return c, nil
}
