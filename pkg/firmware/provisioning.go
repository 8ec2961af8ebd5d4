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

// ErrProvisioningUnavailable is returned when the provisioning record cannot be read.
var ErrProvisioningUnavailable = errors.New("provisioning record unavailable")

const (
	acdMainOpcode = 9876
	acdRead       = 1
	acdBufferSize = 512
)

type acdRequest struct {
	MainOpcode uint16
	SubOpcode  uint16
	Index      uint32
}

type acdReply struct {
	MainOpcode uint16
	SubOpcode  uint16
	Status     uint32
	BytesRead  uint16
	_          uint16
	ACDStatus  uint32
	Buf        [acdBufferSize]byte
}

// acdReplyHeaderSize is the part of the reply that must be present.
const acdReplyHeaderSize = 16

// ProvisioningRecord is the theft deterrent record kept in the ACD storage.
type ProvisioningRecord struct {
	Flag [constants.ACDFlagLength]byte
	Data [constants.ACDRecordLength - constants.ACDFlagLength]byte
}

// Supported reports whether the device was provisioned for theft deterrence.
// Every flag byte must carry one of the recognized values, mixing them is allowed.
func (r ProvisioningRecord) Supported() bool {
	for _, b := range r.Flag {
		if b != constants.ACDFlagByte && b != constants.ACDFlagByteAlt {
			return false
		}
	}

	return true
}

// Provisioning reads the provisioning record.
type Provisioning struct {
	mei    Exchanger
	client uuid.UUID
	logger *slog.Logger
}

// NewProvisioning returns a Provisioning querying the ACD client through mei.
func NewProvisioning(mei Exchanger, logger *slog.Logger) *Provisioning {
	if logger == nil {
		logger = slog.Default()
	}

	return &Provisioning{
		mei:    mei,
		client: uuid.MustParse(constants.UMIPClientUUID),
		logger: logger,
	}
}

// Record reads the provisioning record. Bytes the firmware did not send read as zero.
func (p *Provisioning) Record(ctx context.Context) (ProvisioningRecord, error) {
	var record ProvisioningRecord

	var request bytes.Buffer
	if err := binary.Write(&request, binary.LittleEndian, acdRequest{
		MainOpcode: acdMainOpcode,
		SubOpcode:  acdRead,
		Index:      constants.ACDFieldIndex,
	}); err != nil {
		return record, err
	}

	replySize := binary.Size(acdReply{})

	out, err := p.mei.Exchange(ctx, p.client, request.Bytes(), replySize)
	if err != nil {
		return record, fmt.Errorf("%w: %w", ErrProvisioningUnavailable, err)
	}

	if len(out) < acdReplyHeaderSize {
		return record, fmt.Errorf("%w: reply of %d bytes", ErrProvisioningUnavailable, len(out))
	}

	padded := make([]byte, replySize)
	copy(padded, out)

	var reply acdReply
	if err := binary.Read(bytes.NewReader(padded), binary.LittleEndian, &reply); err != nil {
		return record, fmt.Errorf("%w: %v", ErrProvisioningUnavailable, err)
	}

	if reply.Status != 0 {
		return record, fmt.Errorf("%w: status %d", ErrProvisioningUnavailable, reply.Status)
	}

	if reply.BytesRead < constants.ACDFlagLength {
		return record, fmt.Errorf("%w: flag not found, %d bytes read", ErrProvisioningUnavailable, reply.BytesRead)
	}

	p.logger.Debug("provisioning record", "bytes_read", reply.BytesRead, "acd_status", reply.ACDStatus)

	copy(record.Flag[:], reply.Buf[:constants.ACDFlagLength])
	copy(record.Data[:], reply.Buf[constants.ACDFlagLength:constants.ACDRecordLength])

	return record, nil
}
