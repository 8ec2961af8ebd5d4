// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bootcert

import (
	"context"
	"fmt"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/kairos-io/go-tdlock/pkg/tpm12"
)

// NVStorage reads and writes TPM NV regions.
type NVStorage interface {
	ReadNV(ctx context.Context, h tpm12.NVHandle) ([]byte, error)
	WriteNV(ctx context.Context, h tpm12.NVHandle, data []byte) error
}

var (
	certificateHandle = tpm12.NVHandle{Index: constants.BootCertificateIndex, Size: constants.BootCertificateSize}
	packetHandle      = tpm12.NVHandle{Index: constants.ProvisionPacketIndex, Size: constants.ProvisionPacketSize}
)

// Store keeps the certificate and the provision packet region in NV storage.
type Store struct {
	nv NVStorage
}

func NewStore(nv NVStorage) *Store {
	return &Store{nv: nv}
}

// Load reads and parses the certificate.
func (s *Store) Load(ctx context.Context) (Certificate, error) {
	raw, err := s.nv.ReadNV(ctx, certificateHandle)
	if err != nil {
		return Certificate{}, fmt.Errorf("couldn't read boot certificate: %w", err)
	}

	return Parse(raw)
}

// Save writes the certificate back.
func (s *Store) Save(ctx context.Context, c Certificate) error {
	if err := s.nv.WriteNV(ctx, certificateHandle, c.Marshal()); err != nil {
		return fmt.Errorf("couldn't save boot certificate %s: %w", c, err)
	}

	return nil
}

// PacketPending reports whether a provision packet waits in NV storage.
func (s *Store) PacketPending(ctx context.Context) (bool, error) {
	raw, err := s.nv.ReadNV(ctx, packetHandle)
	if err != nil {
		return false, fmt.Errorf("couldn't read provision packet region: %w", err)
	}

	return PacketPending(raw), nil
}
