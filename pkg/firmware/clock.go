// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package firmware

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kairos-io/go-tdlock/pkg/constants"
)

// ErrClockUnavailable is returned when the secure clock cannot be read.
var ErrClockUnavailable = errors.New("secure clock unavailable")

const (
	mkhiGroupGeneral = 0xFF
	mkhiGetTicks     = 0x1D
	mkhiIsResponse   = 1 << 15
)

// mkhiHeader packs group_id:8, command:7, is_response:1, reserved:8, result:8.
type mkhiHeader uint32

func newMKHIHeader(group, command uint8) mkhiHeader {
	return mkhiHeader(uint32(group) | uint32(command&0x7F)<<8)
}

func (h mkhiHeader) command() uint8 { return uint8(h>>8) & 0x7F }
func (h mkhiHeader) result() uint8  { return uint8(h >> 24) }

type ticksReply struct {
	Header       mkhiHeader
	TicksCounter uint32
	TicksValid   uint32
}

// Clock reads the secure clock.
type Clock struct {
	mei    Exchanger
	client uuid.UUID
	logger *slog.Logger
}

// NewClock returns a Clock querying the MKHI client through mei.
func NewClock(mei Exchanger, logger *slog.Logger) *Clock {
	if logger == nil {
		logger = slog.Default()
	}

	return &Clock{
		mei:    mei,
		client: uuid.MustParse(constants.MKHIClientUUID),
		logger: logger,
	}
}

// Ticks returns the current secure clock value in seconds.
func (c *Clock) Ticks(ctx context.Context) (uint32, error) {
	request := make([]byte, 4)
	binary.LittleEndian.PutUint32(request, uint32(newMKHIHeader(mkhiGroupGeneral, mkhiGetTicks)))

	out, err := c.mei.Exchange(ctx, c.client, request, binary.Size(ticksReply{}))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrClockUnavailable, err)
	}

	var reply ticksReply
	if err := binary.Read(bytes.NewReader(out), binary.LittleEndian, &reply); err != nil {
		return 0, fmt.Errorf("%w: reply of %d bytes", ErrClockUnavailable, len(out))
	}

	if reply.Header.command() != mkhiGetTicks {
		return 0, fmt.Errorf("%w: reply to command %#x", ErrClockUnavailable, reply.Header.command())
	}

	if reply.Header.result() != 0 {
		return 0, fmt.Errorf("%w: result %#x", ErrClockUnavailable, reply.Header.result())
	}

	c.logger.Debug("secure clock", "ticks", reply.TicksCounter, "valid", reply.TicksValid, "response", uint32(reply.Header)&mkhiIsResponse != 0)

	return reply.TicksCounter, nil
}
