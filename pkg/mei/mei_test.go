package mei

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "MEI test Suite")
}

type fakeDevice struct {
	connectErr error
	props      ClientProperties
	connected  uuid.UUID
	written    []byte
	shortWrite bool
	reply      []byte
	waitErr    error
	waited     time.Duration
	closes     int
}

func (f *fakeDevice) Connect(client uuid.UUID) (ClientProperties, error) {
	f.connected = client
	return f.props, f.connectErr
}

func (f *fakeDevice) Write(p []byte) (int, error) {
	f.written = append([]byte(nil), p...)
	if f.shortWrite {
		return len(p) - 1, nil
	}
	return len(p), nil
}

func (f *fakeDevice) Read(p []byte) (int, error) {
	return copy(p, f.reply), nil
}

func (f *fakeDevice) WaitReadable(timeout time.Duration) error {
	f.waited = timeout
	return f.waitErr
}

func (f *fakeDevice) Close() error {
	f.closes++
	return nil
}

var client = uuid.MustParse("8e6a6715-9abc-4043-88ef-9e39c6f63e0f")

var _ = Describe("MEI tests", func() {
	var dev *fakeDevice
	var transport *Transport
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
		dev = &fakeDevice{props: ClientProperties{MaxMessageLength: 512, ProtocolVersion: 1}}
		transport = NewTransport("/dev/mei0", WithOpener(func(string) (Device, error) { return dev, nil }))
	})

	It("lays out client GUIDs little-endian", func() {
		b := guidBytes(client)
		Expect(b[:]).To(Equal([]byte{
			0x15, 0x67, 0x6a, 0x8e, 0xbc, 0x9a, 0x43, 0x40,
			0x88, 0xef, 0x9e, 0x39, 0xc6, 0xf6, 0x3e, 0x0f,
		}))
	})
	It("exchanges a request and a reply", func() {
		dev.reply = []byte{1, 2, 3}

		reply, err := transport.Exchange(ctx, client, []byte{0xFF, 0x1D, 0, 0}, 12)
		Expect(err).ToNot(HaveOccurred())
		Expect(reply).To(Equal([]byte{1, 2, 3}))
		Expect(dev.connected).To(Equal(client))
		Expect(dev.written).To(Equal([]byte{0xFF, 0x1D, 0, 0}))
		Expect(dev.closes).To(Equal(1))
	})
	It("closes the device when the client is unknown", func() {
		dev.connectErr = fmt.Errorf("%w: %s", ErrClientUnknown, client)

		_, err := transport.Exchange(ctx, client, []byte{1}, 12)
		Expect(errors.Is(err, ErrClientUnknown)).To(BeTrue())
		Expect(dev.closes).To(Equal(1))
	})
	It("reports open failures", func() {
		transport = NewTransport("/dev/mei0", WithOpener(func(string) (Device, error) {
			return nil, ErrServiceUnavailable
		}))

		_, err := transport.Exchange(ctx, client, []byte{1}, 12)
		Expect(errors.Is(err, ErrServiceUnavailable)).To(BeTrue())
	})
	It("closes the session after a short write", func() {
		dev.shortWrite = true

		_, err := transport.Exchange(ctx, client, []byte{1, 2}, 12)
		Expect(errors.Is(err, ErrShortWrite)).To(BeTrue())
		Expect(dev.closes).To(Equal(1))
	})
	It("treats an empty reply as a short read", func() {
		_, err := transport.Exchange(ctx, client, []byte{1}, 12)
		Expect(errors.Is(err, ErrShortRead)).To(BeTrue())
		Expect(dev.closes).To(Equal(1))
	})
	It("refuses messages above the client maximum", func() {
		dev.props.MaxMessageLength = 4

		_, err := transport.Exchange(ctx, client, make([]byte, 5), 12)
		Expect(errors.Is(err, ErrTooLarge)).To(BeTrue())
		Expect(dev.written).To(BeNil())
	})
	It("waits for the reply only when a timeout is set", func() {
		dev.reply = []byte{1}

		_, err := transport.Exchange(ctx, client, []byte{1}, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(dev.waited).To(BeZero())

		transport = NewTransport("/dev/mei0",
			WithOpener(func(string) (Device, error) { return dev, nil }),
			WithReceiveTimeout(time.Second))
		dev.waitErr = ErrTimeout

		_, err = transport.Exchange(ctx, client, []byte{1}, 1)
		Expect(errors.Is(err, ErrTimeout)).To(BeTrue())
		Expect(dev.waited).To(Equal(time.Second))
	})
	It("rounds poll timeouts up to whole milliseconds", func() {
		Expect(pollMillis(0)).To(Equal(0))
		Expect(pollMillis(time.Microsecond)).To(Equal(1))
		Expect(pollMillis(time.Millisecond)).To(Equal(1))
		Expect(pollMillis(1500 * time.Microsecond)).To(Equal(2))
		Expect(pollMillis(2 * time.Second)).To(Equal(2000))
	})

	It("closes a session once", func() {
		s, err := transport.Open(ctx, client)
		Expect(err).ToNot(HaveOccurred())
		Expect(s.Properties().MaxMessageLength).To(Equal(uint32(512)))

		Expect(s.Close()).To(Succeed())
		Expect(s.Close()).To(Succeed())
		Expect(dev.closes).To(Equal(1))
	})
})
