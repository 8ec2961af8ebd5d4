// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package tpm12

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

// NVHandle addresses an NV region.
type NVHandle struct {
	Index  uint32
	Offset uint32
	Size   uint32
}

// Module issues commands to a TPM through a Transmitter.
type Module struct {
	tx     Transmitter
	logger *slog.Logger
}

// NewModule returns a Module sending commands through tx.
func NewModule(tx Transmitter, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.Default()
	}

	return &Module{tx: tx, logger: logger}
}

// run transmits an encoded command and classifies the response.
func (m *Module) run(ctx context.Context, op string, command []byte, buildErr error) (*Response, error) {
	ordinal := ordinalOf(command)
	if buildErr != nil {
		return nil, &Error{Kind: QueryFailed, Op: op, Ordinal: ordinal, Err: buildErr}
	}

	m.logger.Debug("TPM command", "op", op, "ordinal", fmt.Sprintf("%#x", uint32(ordinal)), "data", hex.EncodeToString(command))

	out, err := m.tx.Transmit(ctx, command)
	if err != nil {
		return nil, &Error{Kind: QueryFailed, Op: op, Ordinal: ordinal, Err: err}
	}

	m.logger.Debug("TPM response", "op", op, "data", hex.EncodeToString(out))

	resp, err := ParseResponse(out)
	if err != nil {
		return nil, &Error{Kind: QueryFailed, Op: op, Ordinal: ordinal, Err: err}
	}

	switch resp.Code {
	case RCSuccess:
		return resp, nil
	case RCRetry:
		return nil, &Error{Kind: Busy, Op: op, Ordinal: ordinal, Code: resp.Code}
	default:
		return nil, &Error{Kind: CommandRejected, Op: op, Ordinal: ordinal, Code: resp.Code}
	}
}

// Capability queries and decodes a capability.
func (m *Module) Capability(ctx context.Context, kind CapabilityKind) (Capability, error) {
	command, err := BuildGetCapability(kind)
	op := "get capability " + kind.String()

	resp, err := m.run(ctx, op, command, err)
	if err != nil {
		return nil, err
	}

	c, err := DecodeCapability(kind, resp.Body)
	if err != nil {
		return nil, &Error{Kind: QueryFailed, Op: op, Ordinal: OrdGetCapability, Err: err}
	}

	return c, nil
}

// PermanentFlags returns the permanent flags.
func (m *Module) PermanentFlags(ctx context.Context) (*PermanentFlags, error) {
	c, err := m.Capability(ctx, CapPermanentFlags)
	if err != nil {
		return nil, err
	}

	return c.(*PermanentFlags), nil
}

// VolatileFlags returns the flags that are reset on every startup.
func (m *Module) VolatileFlags(ctx context.Context) (*VolatileFlags, error) {
	c, err := m.Capability(ctx, CapVolatileFlags)
	if err != nil {
		return nil, err
	}

	return c.(*VolatileFlags), nil
}

func (m *Module) IsEnabled(ctx context.Context) (bool, error) {
	flags, err := m.PermanentFlags(ctx)
	if err != nil {
		return false, err
	}

	return !flags.Disable, nil
}

// IsActive reports whether the module is permanently active.
func (m *Module) IsActive(ctx context.Context) (bool, error) {
	flags, err := m.PermanentFlags(ctx)
	if err != nil {
		return false, err
	}

	return !flags.Deactivated, nil
}

// IsTemporarilyActive reports whether the module is active for the current power cycle.
func (m *Module) IsTemporarilyActive(ctx context.Context) (bool, error) {
	flags, err := m.VolatileFlags(ctx)
	if err != nil {
		return false, err
	}

	return !flags.Deactivated, nil
}

func (m *Module) IsNVLocked(ctx context.Context) (bool, error) {
	flags, err := m.PermanentFlags(ctx)
	if err != nil {
		return false, err
	}

	return flags.NVLocked, nil
}

func (m *Module) IsOwned(ctx context.Context) (bool, error) {
	c, err := m.Capability(ctx, CapOwner)
	if err != nil {
		return false, err
	}

	return c.(*Owner).Owned, nil
}

func (m *Module) PCRCount(ctx context.Context) (uint32, error) {
	c, err := m.Capability(ctx, CapPCRCount)
	if err != nil {
		return 0, err
	}

	return c.(*PCRCount).Count, nil
}

func (m *Module) Manufacturer(ctx context.Context) (*Manufacturer, error) {
	c, err := m.Capability(ctx, CapManufacturer)
	if err != nil {
		return nil, err
	}

	return c.(*Manufacturer), nil
}

// Version returns the 1.2 version structure, falling back to the 1.1 one on modules that reject it.
func (m *Module) Version(ctx context.Context) (*Version, error) {
	c, err := m.Capability(ctx, CapVersion12)
	if err == nil {
		v := c.(*Version12).Version
		return &v, nil
	}

	if !IsKind(err, CommandRejected) {
		return nil, err
	}

	c, err = m.Capability(ctx, CapVersion)
	if err != nil {
		return nil, err
	}

	return c.(*Version), nil
}

// ReadNV reads h.Size bytes of the region. The module decides how many bytes come back.
func (m *Module) ReadNV(ctx context.Context, h NVHandle) ([]byte, error) {
	command, err := BuildNVRead(h.Index, h.Offset, h.Size)
	op := fmt.Sprintf("read NV %#x", h.Index)

	resp, err := m.run(ctx, op, command, err)
	if err != nil {
		return nil, err
	}

	data, err := ParseNVRead(resp.Body)
	if err != nil {
		return nil, &Error{Kind: QueryFailed, Op: op, Ordinal: OrdNVReadValue, Err: err}
	}

	return data, nil
}

// WriteNV writes data to the region, data must be exactly h.Size bytes.
func (m *Module) WriteNV(ctx context.Context, h NVHandle, data []byte) error {
	op := fmt.Sprintf("write NV %#x", h.Index)

	if len(data) != int(h.Size) {
		return &Error{
			Kind:    QueryFailed,
			Op:      op,
			Ordinal: OrdNVWriteValue,
			Err:     fmt.Errorf("%w: %d bytes for a %d byte region", ErrSizeMismatch, len(data), h.Size),
		}
	}

	command, err := BuildNVWrite(h.Index, h.Offset, data)
	_, err = m.run(ctx, op, command, err)

	return err
}

// AssertPhysicalPresence asserts physical presence for the current boot.
func (m *Module) AssertPhysicalPresence(ctx context.Context) error {
	command, err := BuildPhysicalPresence(PhysicalPresencePresent)
	_, err = m.run(ctx, "assert physical presence", command, err)

	return err
}

// LockPhysicalPresence locks physical presence until the next startup.
func (m *Module) LockPhysicalPresence(ctx context.Context) error {
	command, err := BuildPhysicalPresence(PhysicalPresenceLock)
	_, err = m.run(ctx, "lock physical presence", command, err)

	return err
}

func (m *Module) ContinueSelfTest(ctx context.Context) error {
	command, err := BuildContinueSelfTest()
	_, err = m.run(ctx, "continue self test", command, err)

	return err
}

// PhysicalEnable enables the module, physical presence must be asserted.
func (m *Module) PhysicalEnable(ctx context.Context) error {
	command, err := BuildPhysicalEnable()
	_, err = m.run(ctx, "physical enable", command, err)

	return err
}

// SetActive changes the persistent activation state. It only takes effect after a restart.
func (m *Module) SetActive(ctx context.Context, active bool) error {
	command, err := BuildSetActive(active)
	_, err = m.run(ctx, fmt.Sprintf("set active %t", active), command, err)

	return err
}

// LockNVRegions locks the secure storage regions by writing zero bytes to each of them,
// preceded by a zero sized read of the first one. Every write is attempted.
func (m *Module) LockNVRegions(ctx context.Context, first uint32, count int) error {
	var errs []error

	if _, err := m.ReadNV(ctx, NVHandle{Index: first}); err != nil {
		errs = append(errs, err)
	}

	for i := 0; i < count; i++ {
		if err := m.WriteNV(ctx, NVHandle{Index: first + uint32(i)}, nil); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("couldn't lock NV regions: %w", errors.Join(errs...))
	}

	return nil
}
