package bootcert

import (
	"context"
	"errors"
	"testing"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/kairos-io/go-tdlock/pkg/tpm12"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Boot certificate test Suite")
}

const year = constants.TicksPerYear

func window(start, end uint32) Certificate {
	return Certificate{BootTime: 7, RangeStart: start, RangeEnd: end, HardwareID: [12]byte{1, 2, 3}}
}

type fakeNV struct {
	regions map[uint32][]byte
	writes  map[uint32][]byte
	err     error
}

func (f *fakeNV) ReadNV(_ context.Context, h tpm12.NVHandle) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.regions[h.Index], nil
}

func (f *fakeNV) WriteNV(_ context.Context, h tpm12.NVHandle, data []byte) error {
	if f.err != nil {
		return f.err
	}
	if len(data) != int(h.Size) {
		return tpm12.ErrSizeMismatch
	}
	f.writes[h.Index] = data
	return nil
}

var _ = Describe("Boot certificate tests", func() {
	Describe("Layout", func() {
		It("decodes the little-endian layout", func() {
			raw := []byte{
				0x01, 0x00, 0x00, 0x00,
				0x64, 0x00, 0x00, 0x00,
				0xE8, 0x03, 0x00, 0x00,
				'H', 'W', 'I', 'D', 0, 0, 0, 0, 0, 0, 0, 9,
			}

			c, err := Parse(raw)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.BootTime).To(Equal(uint32(1)))
			Expect(c.RangeStart).To(Equal(uint32(100)))
			Expect(c.RangeEnd).To(Equal(uint32(1000)))
			Expect(c.HardwareID[11]).To(Equal(byte(9)))
			Expect(c.Marshal()).To(Equal(raw))
		})
		It("rejects a zeroed region", func() {
			_, err := Parse(make([]byte, 24))
			Expect(errors.Is(err, ErrNotProvisioned)).To(BeTrue())
		})
		It("rejects an erased range", func() {
			raw := window(0, 0).Marshal()
			for i := 4; i < 12; i++ {
				raw[i] = 0xFF
			}

			_, err := Parse(raw)
			Expect(errors.Is(err, ErrNotProvisioned)).To(BeTrue())
		})
		It("accepts a range with only one erased bound", func() {
			_, err := Parse(window(0xFFFFFFFF, 0xFFFFFFFE).Marshal())
			Expect(err).ToNot(HaveOccurred())
		})
		It("rejects a short region", func() {
			_, err := Parse(make([]byte, 23))
			Expect(errors.Is(err, ErrInvalidLayout)).To(BeTrue())
		})
	})

	Describe("Evaluate", func() {
		DescribeTable("a collapsed window is always expired",
			func(at, now uint32) {
				e := Evaluate(window(at, at), now)
				Expect(e.Outcome).To(Equal(Expired))
				Expect(e.Persist).To(BeFalse())
				Expect(e.Branch).To(Equal(BranchLocked))
				Expect(e.Certificate).To(Equal(window(at, at)))
			},
			Entry("before", uint32(1000), uint32(10)),
			Entry("at", uint32(1000), uint32(1000)),
			Entry("after", uint32(1000), uint32(5000)),
			Entry("zero", uint32(0), uint32(0)),
			Entry("max", uint32(0xFFFFFFFF), uint32(3)),
		)

		DescribeTable("a clock behind the window gets one chance",
			func(start, end, now uint32) {
				e := Evaluate(window(start, end), now)
				Expect(e.Outcome).To(Equal(Valid))
				Expect(e.Persist).To(BeTrue())
				Expect(e.Branch).To(Equal(BranchClockBehind))
				Expect(e.Certificate.RangeStart).To(Equal(now))
				Expect(e.Certificate.RangeEnd).To(Equal(now))
			},
			Entry("just before", uint32(100), uint32(1000), uint32(99)),
			Entry("at zero", uint32(100), uint32(1000), uint32(0)),
			Entry("long window", uint32(10*year), uint32(60*year), uint32(year)),
		)

		DescribeTable("a clock past the window collapses it",
			func(start, end, now uint32) {
				e := Evaluate(window(start, end), now)
				Expect(e.Outcome).To(Equal(Expired))
				Expect(e.Persist).To(BeTrue())
				Expect(e.Branch).To(Equal(BranchWindowExceeded))
				Expect(e.Certificate.RangeStart).To(Equal(end))
				Expect(e.Certificate.RangeEnd).To(Equal(end))

				again := Evaluate(e.Certificate, now)
				Expect(again.Outcome).To(Equal(Expired))
				Expect(again.Certificate).To(Equal(e.Certificate))
			},
			Entry("just after", uint32(100), uint32(1000), uint32(1001)),
			Entry("far after", uint32(100), uint32(1000), uint32(0xFFFFFFFF)),
			Entry("year window", uint32(year), uint32(2*year), uint32(3*year)),
		)

		DescribeTable("a clock inside the window slides its start",
			func(start, end, now uint32) {
				e := Evaluate(window(start, end), now)
				Expect(e.Outcome).To(Equal(Valid))
				Expect(e.Persist).To(BeTrue())
				Expect(e.Branch).To(Equal(BranchSliding))
				Expect(e.Certificate.RangeStart).To(Equal(now))
				Expect(e.Certificate.RangeEnd).To(Equal(end))
			},
			Entry("at start", uint32(100), uint32(1000), uint32(100)),
			Entry("middle", uint32(100), uint32(1000), uint32(500)),
			Entry("at end", uint32(100), uint32(1000), uint32(1000)),
			Entry("fifty years exactly", uint32(0), uint32(50*year), uint32(25*year)),
		)

		It("keeps the span of a permanent certificate when the clock goes back", func() {
			start := uint32(10 * year)
			end := start + 60*year

			e := Evaluate(window(start, end), year)
			Expect(e.Outcome).To(Equal(Valid))
			Expect(e.Persist).To(BeTrue())
			Expect(e.Branch).To(Equal(BranchPermanent))
			Expect(e.Certificate.RangeStart).To(Equal(year))
			Expect(e.Certificate.Span()).To(Equal(60 * year))
		})
		It("only moves the start of a permanent certificate when the clock goes forward", func() {
			e := Evaluate(window(0, 60*year), 5*year)
			Expect(e.Outcome).To(Equal(Valid))
			Expect(e.Certificate.RangeStart).To(Equal(5 * year))
			Expect(e.Certificate.RangeEnd).To(Equal(60 * year))
		})
		It("keeps the other fields", func() {
			e := Evaluate(window(100, 1000), 500)
			Expect(e.Certificate.BootTime).To(Equal(uint32(7)))
			Expect(e.Certificate.HardwareID).To(Equal([12]byte{1, 2, 3}))
		})
		It("treats an inverted window as permanent, the span wraps", func() {
			e := Evaluate(window(1000, 100), 500)
			Expect(e.Branch).To(Equal(BranchPermanent))
			Expect(e.Outcome).To(Equal(Valid))
		})
	})

	DescribeTable("provision packet detection",
		func(code []byte, pending bool) {
			raw := make([]byte, constants.ProvisionPacketSize)
			copy(raw, code)
			Expect(PacketPending(raw)).To(Equal(pending))
		},
		Entry("all zero", []byte{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}, false),
		Entry("all 0xFF", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}, false),
		Entry("zero with one 0xFF", []byte{0x00, 0x00, 0xFF, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, true),
		Entry("0xFF with one zero", []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}, true),
		Entry("unlock code", []byte{0x01, 0x31, 0x32, 0x33, 0x34, 0x35, 0x36, 0x37, 0x38, 0x39, 0x30}, true),
	)

	It("ignores bytes after the unlock code", func() {
		raw := make([]byte, constants.ProvisionPacketSize)
		raw[11] = 0x42
		Expect(PacketPending(raw)).To(BeFalse())
	})
	It("treats a short packet region as pending", func() {
		Expect(PacketPending(make([]byte, 10))).To(BeTrue())
	})

	Describe("Store", func() {
		var nv *fakeNV
		var store *Store
		var ctx context.Context

		BeforeEach(func() {
			ctx = context.Background()
			nv = &fakeNV{regions: map[uint32][]byte{}, writes: map[uint32][]byte{}}
			store = NewStore(nv)
		})

		It("loads and saves the certificate at its NV index", func() {
			nv.regions[constants.BootCertificateIndex] = window(100, 1000).Marshal()

			c, err := store.Load(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(c).To(Equal(window(100, 1000)))

			Expect(store.Save(ctx, window(500, 1000))).To(Succeed())
			Expect(nv.writes[constants.BootCertificateIndex]).To(Equal(window(500, 1000).Marshal()))
		})
		It("reads the provision packet region", func() {
			raw := make([]byte, constants.ProvisionPacketSize)
			raw[0] = 0x02
			nv.regions[constants.ProvisionPacketIndex] = raw

			pending, err := store.PacketPending(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(pending).To(BeTrue())
		})
		It("propagates NV errors", func() {
			nv.err = errors.New("tpm gone")

			_, err := store.Load(ctx)
			Expect(err).To(MatchError(ContainSubstring("tpm gone")))

			_, err = store.PacketPending(ctx)
			Expect(err).To(HaveOccurred())
		})
	})
})
