// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package bootloader reads and writes the systemd-boot loader variables used to
// tell which OS booted and to pick the OS of the next boot, and reboots.
package bootloader

import (
	"errors"
	"strings"

	"github.com/ecks/uefi/efi/efiguid"
	"github.com/ecks/uefi/efi/efivario"
	"github.com/kairos-io/go-tdlock/pkg/constants"
	"golang.org/x/text/encoding/unicode"
)

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// LoaderGUID is the GUID of the systemd-boot loader variables.
var LoaderGUID = efiguid.MustFromString(constants.LoaderGUIDString)

// Variables reads and writes string loader variables. A missing variable reads as "".
type Variables interface {
	Read(name string) (string, error)
	Write(name, value string) error
}

// EFIVariables keeps loader variables in UEFI variable storage.
type EFIVariables struct {
	c efivario.Context
}

func NewEFIVariables() *EFIVariables {
	return &EFIVariables{c: efivario.NewDefaultContext()}
}

func (v *EFIVariables) Read(name string) (string, error) {
	_, data, err := efivario.ReadAll(v.c, name, LoaderGUID)
	if err != nil {
		if errors.Is(err, efivario.ErrNotFound) {
			return "", nil
		}

		return "", err
	}

	return decodeUTF16(data)
}

func (v *EFIVariables) Write(name, value string) error {
	data, err := encodeUTF16(value)
	if err != nil {
		return err
	}

	return v.c.Set(name, LoaderGUID, efivario.BootServiceAccess|efivario.RuntimeAccess|efivario.NonVolatile, data)
}

// decodeUTF16 decodes a NUL terminated UTF-16LE string.
func decodeUTF16(data []byte) (string, error) {
	out, err := utf16LE.NewDecoder().Bytes(data)
	if err != nil {
		return "", err
	}

	return strings.TrimSuffix(string(out), "\x00"), nil
}

// encodeUTF16 encodes value as a NUL terminated UTF-16LE string.
func encodeUTF16(value string) ([]byte, error) {
	return utf16LE.NewEncoder().Bytes([]byte(value + "\x00"))
}
