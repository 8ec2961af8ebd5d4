// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package firmware implements the two firmware services queried over MEI: the
// tamper resistant secure clock and the read only provisioning record.
//
// Both protocols are little-endian.
package firmware

import (
	"context"

	"github.com/google/uuid"
)

// Exchanger sends one request to a firmware client and returns its reply.
type Exchanger interface {
	Exchange(ctx context.Context, client uuid.UUID, request []byte, replySize int) ([]byte, error)
}
