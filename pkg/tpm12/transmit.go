// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package tpm12

import (
	"context"
	"fmt"
	"io"

	"github.com/google/go-tpm/tpmutil"
)

// maxResponseSize is the read buffer for a single response.
const maxResponseSize = 4096

// Transmitter sends one encoded command and returns the raw response frame.
type Transmitter interface {
	Transmit(ctx context.Context, command []byte) ([]byte, error)
}

// DeviceTransmitter talks to a TPM character device.
type DeviceTransmitter struct {
	path string
	rw   io.ReadWriteCloser
}

// OpenDevice opens the TPM character device at path.
func OpenDevice(path string) (*DeviceTransmitter, error) {
	rw, err := tpmutil.OpenTPM(path)
	if err != nil {
		return nil, fmt.Errorf("couldn't open TPM device %s: %w", path, err)
	}

	return &DeviceTransmitter{path: path, rw: rw}, nil
}

// Transmit writes the command in a single write and reads the response in a single read.
func (d *DeviceTransmitter) Transmit(ctx context.Context, command []byte) ([]byte, error) {
	if len(command) < HeaderSize {
		return nil, fmt.Errorf("%w: command of %d bytes", ErrTruncated, len(command))
	}

	if len(command) > MaxCommandSize {
		return nil, fmt.Errorf("%w: command of %d bytes", ErrTooLarge, len(command))
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n, err := d.rw.Write(command)
	if err != nil {
		return nil, fmt.Errorf("couldn't write to %s: %w", d.path, err)
	}

	if n != len(command) {
		return nil, fmt.Errorf("short write to %s: %d of %d bytes", d.path, n, len(command))
	}

	buf := make([]byte, maxResponseSize)

	n, err = d.rw.Read(buf)
	if err != nil {
		return nil, fmt.Errorf("couldn't read from %s: %w", d.path, err)
	}

	return buf[:n], nil
}

// Close closes the device.
func (d *DeviceTransmitter) Close() error {
	return d.rw.Close()
}
