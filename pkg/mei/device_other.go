// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

//go:build !linux

package mei

import "fmt"

// OpenDevice is only supported on Linux.
func OpenDevice(path string) (Device, error) {
	return nil, fmt.Errorf("%w: %s is not supported on this platform", ErrServiceUnavailable, path)
}
