// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package mei exchanges messages with firmware clients behind the Management
// Engine Interface character device.
package mei

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrServiceUnavailable is returned when the MEI device cannot be opened or the client refuses the connection.
	ErrServiceUnavailable = errors.New("MEI service unavailable")
	// ErrClientUnknown is returned when the firmware does not know the requested client.
	ErrClientUnknown = errors.New("MEI client unknown")
	ErrShortWrite    = errors.New("short MEI write")
	ErrShortRead     = errors.New("short MEI read")
	ErrTimeout       = errors.New("timed out waiting for MEI reply")
	// ErrTooLarge is returned when a message exceeds the client's maximum message length.
	ErrTooLarge = errors.New("message exceeds client maximum length")
)

// ClientProperties are returned by the firmware when connecting to a client.
type ClientProperties struct {
	MaxMessageLength uint32
	ProtocolVersion  uint8
}

// Device is an open MEI character device.
type Device interface {
	// Connect binds the device to a firmware client, it can be called once per open.
	Connect(client uuid.UUID) (ClientProperties, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	// WaitReadable blocks until a reply is ready or the timeout expires.
	WaitReadable(timeout time.Duration) error
	Close() error
}

// Opener opens the MEI device at path.
type Opener func(path string) (Device, error)

// Transport opens sessions to firmware clients.
type Transport struct {
	path    string
	open    Opener
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithOpener replaces the device opener.
func WithOpener(open Opener) Option {
	return func(t *Transport) {
		t.open = open
	}
}

// WithReceiveTimeout bounds how long Receive waits, zero waits forever.
func WithReceiveTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.timeout = d
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// NewTransport returns a Transport for the MEI device at path.
func NewTransport(path string, opts ...Option) *Transport {
	t := &Transport{
		path:   path,
		open:   OpenDevice,
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Open connects a new session to client.
func (t *Transport) Open(ctx context.Context, client uuid.UUID) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dev, err := t.open(t.path)
	if err != nil {
		return nil, err
	}

	props, err := dev.Connect(client)
	if err != nil {
		dev.Close() //nolint:errcheck

		return nil, err
	}

	t.logger.Debug("MEI client connected", "client", client.String(), "max_msg_length", props.MaxMessageLength, "protocol", props.ProtocolVersion)

	return &Session{dev: dev, props: props, timeout: t.timeout, client: client}, nil
}

// Exchange sends request to client and returns its reply. The session is closed on every path.
func (t *Transport) Exchange(ctx context.Context, client uuid.UUID, request []byte, replySize int) ([]byte, error) {
	s, err := t.Open(ctx, client)
	if err != nil {
		return nil, err
	}

	defer s.Close() //nolint:errcheck

	if err := s.Send(ctx, request); err != nil {
		return nil, err
	}

	reply := make([]byte, replySize)

	n, err := s.Receive(ctx, reply)
	if err != nil {
		return nil, err
	}

	return reply[:n], nil
}

// Session is a connection to a single firmware client.
type Session struct {
	dev     Device
	props   ClientProperties
	timeout time.Duration
	client  uuid.UUID
	closed  bool
}

func (s *Session) Properties() ClientProperties {
	return s.props
}

// Send writes msg as a single message.
func (s *Session) Send(ctx context.Context, msg []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.props.MaxMessageLength > 0 && len(msg) > int(s.props.MaxMessageLength) {
		return fmt.Errorf("%w: %d bytes, client %s accepts %d", ErrTooLarge, len(msg), s.client, s.props.MaxMessageLength)
	}

	n, err := s.dev.Write(msg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrShortWrite, err)
	}

	if n != len(msg) {
		return fmt.Errorf("%w: %d of %d bytes", ErrShortWrite, n, len(msg))
	}

	return nil
}

// Receive reads one reply into buf. A reply of zero bytes is an error.
func (s *Session) Receive(ctx context.Context, buf []byte) (int, error) {
	timeout := s.timeout

	if deadline, ok := ctx.Deadline(); ok {
		left := time.Until(deadline)
		if left <= 0 {
			return 0, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		}

		if timeout == 0 || left < timeout {
			timeout = left
		}
	}

	if timeout > 0 {
		if err := s.dev.WaitReadable(timeout); err != nil {
			return 0, err
		}
	}

	n, err := s.dev.Read(buf)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrShortRead, err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("%w: empty reply", ErrShortRead)
	}

	return n, nil
}

// Close releases the session, later calls do nothing.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	s.closed = true

	return s.dev.Close()
}

// guidBytes lays out id the way the firmware expects it: the first three
// fields little-endian, the rest in order.
func guidBytes(id uuid.UUID) [16]byte {
	var b [16]byte

	copy(b[:], id[:])

	b[0], b[1], b[2], b[3] = id[3], id[2], id[1], id[0]
	b[4], b[5] = id[5], id[4]
	b[6], b[7] = id[7], id[6]

	return b
}

// pollMillis converts timeout to poll milliseconds, rounding up so a short
// positive timeout still waits.
func pollMillis(timeout time.Duration) int {
	if timeout <= 0 {
		return 0
	}

	return int((timeout + time.Millisecond - 1) / time.Millisecond)
}
