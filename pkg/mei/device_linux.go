// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build linux

package mei

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"
)

// ioctlConnectClient is IOCTL_MEI_CONNECT_CLIENT, _IOWR('H', 0x01, struct mei_connect_client_data).
const ioctlConnectClient = 0xC0104801

type fileDevice struct {
	f *os.File
}

// OpenDevice opens the MEI character device at path.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	return &fileDevice{f: f}, nil
}

func (d *fileDevice) Connect(client uuid.UUID) (ClientProperties, error) {
	// in: the client GUID, out: max_msg_length u32, protocol_version u8, reserved[3]
	data := guidBytes(client)

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, d.f.Fd(), ioctlConnectClient, uintptr(unsafe.Pointer(&data[0])))
	if errno != 0 {
		if errors.Is(errno, unix.ENOTTY) {
			return ClientProperties{}, fmt.Errorf("%w: %s", ErrClientUnknown, client)
		}

		return ClientProperties{}, fmt.Errorf("%w: connecting to %s: %v", ErrServiceUnavailable, client, errno)
	}

	return ClientProperties{
		MaxMessageLength: binary.LittleEndian.Uint32(data[0:4]),
		ProtocolVersion:  data[4],
	}, nil
}

func (d *fileDevice) Read(p []byte) (int, error) {
	return d.f.Read(p)
}

func (d *fileDevice) Write(p []byte) (int, error) {
	return d.f.Write(p)
}

func (d *fileDevice) WaitReadable(timeout time.Duration) error {
	fds := []unix.PollFd{
		{Fd: int32(d.f.Fd()), Events: unix.POLLIN},
	}

	ms := pollMillis(timeout)

	for {
		n, err := unix.Poll(fds, ms)
		if errors.Is(err, unix.EINTR) {
			continue
		}

		if err != nil {
			return fmt.Errorf("%w: %v", ErrShortRead, err)
		}

		if n == 0 {
			return fmt.Errorf("%w after %s", ErrTimeout, timeout)
		}

		return nil
	}
}

func (d *fileDevice) Close() error {
	return d.f.Close()
}
