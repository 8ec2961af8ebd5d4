package bootloader

import (
	"context"
	"errors"
	"testing"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/kairos-io/go-tdlock/pkg/decision"
	"github.com/kairos-io/go-tdlock/pkg/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Bootloader test Suite")
}

type fakeVariables struct {
	values  map[string]string
	readErr error
}

func (f *fakeVariables) Read(name string) (string, error) {
	return f.values[name], f.readErr
}

func (f *fakeVariables) Write(name, value string) error {
	f.values[name] = value
	return nil
}

var _ = Describe("Bootloader tests", func() {
	var vars *fakeVariables

	BeforeEach(func() {
		vars = &fakeVariables{values: map[string]string{}}
	})

	Describe("UTF-16 variables", func() {
		It("encodes with a NUL terminator", func() {
			b, err := encodeUTF16("tdos")
			Expect(err).ToNot(HaveOccurred())
			Expect(b).To(Equal([]byte{'t', 0, 'd', 0, 'o', 0, 's', 0, 0, 0}))
		})
		It("decodes and drops the terminator", func() {
			s, err := decodeUTF16([]byte{'a', 0, 'n', 0, 'd', 0, 'r', 0, 'o', 0, 'i', 0, 'd', 0, 0, 0})
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(Equal("android"))
		})
		It("decodes an empty variable", func() {
			s, err := decodeUTF16(nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(s).To(BeEmpty())

			b, err := encodeUTF16("")
			Expect(err).ToNot(HaveOccurred())
			Expect(b).To(Equal([]byte{0, 0}))
		})
	})

	Describe("BootReason", func() {
		It("matches the trusted entry", func() {
			vars.values[constants.LoaderEntryLastName] = "tdos"

			trusted, err := NewBootReason(vars, "tdos").IsTrustedOS(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(trusted).To(BeTrue())
		})
		It("reports the normal OS for another or a missing entry", func() {
			vars.values[constants.LoaderEntryLastName] = "android"
			trusted, err := NewBootReason(vars, "tdos").IsTrustedOS(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(trusted).To(BeFalse())

			delete(vars.values, constants.LoaderEntryLastName)
			trusted, err = NewBootReason(vars, "tdos").IsTrustedOS(context.Background())
			Expect(err).ToNot(HaveOccurred())
			Expect(trusted).To(BeFalse())
		})
		It("returns read errors", func() {
			vars.readErr = errors.New("permission denied")

			_, err := NewBootReason(vars, "tdos").IsTrustedOS(context.Background())
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Rebooter", func() {
		var rebooter *Rebooter
		var synced int
		var commands []int

		BeforeEach(func() {
			synced = 0
			commands = nil
			rebooter = NewRebooter(vars, types.DefaultConfig(), nil)
			rebooter.sync = func() { synced++ }
			rebooter.reboot = func(cmd int) error {
				commands = append(commands, cmd)
				return nil
			}
		})

		DescribeTable("applies verdicts",
			func(verdict decision.Verdict, entry string, cmd int) {
				Expect(rebooter.Apply(decision.Decision{Verdict: verdict})).To(Succeed())
				Expect(vars.values[constants.LoaderEntryOneShotName]).To(Equal(entry))
				Expect(commands).To(Equal([]int{cmd}))
				Expect(synced).To(Equal(1))
			},
			Entry("divert", decision.Divert, "tdos", unix.LINUX_REBOOT_CMD_RESTART),
			Entry("return to normal", decision.ReturnToNormal, "android", unix.LINUX_REBOOT_CMD_RESTART),
			Entry("restart", decision.RestartAndReevaluate, "", unix.LINUX_REBOOT_CMD_RESTART),
			Entry("power cycle", decision.PowerCycle, "", unix.LINUX_REBOOT_CMD_POWER_OFF),
		)

		It("does nothing to continue the boot", func() {
			Expect(rebooter.Apply(decision.Decision{Verdict: decision.ContinueBoot})).To(Succeed())
			Expect(commands).To(BeEmpty())
			Expect(vars.values).To(BeEmpty())
		})
		It("only logs in dry run mode", func() {
			config := types.DefaultConfig()
			config.DryRun = true
			rebooter.config = config

			Expect(rebooter.Reboot(constants.TargetTrusted)).To(Succeed())
			Expect(rebooter.PowerOff()).To(Succeed())
			Expect(commands).To(BeEmpty())
			Expect(vars.values).To(BeEmpty())
		})
		It("uses the configured entries", func() {
			config := types.DefaultConfig()
			config.NormalEntry = "debian"
			rebooter.config = config

			Expect(rebooter.Reboot(constants.TargetNormal)).To(Succeed())
			Expect(vars.values[constants.LoaderEntryOneShotName]).To(Equal("debian"))
		})
		It("returns the reboot failure", func() {
			rebooter.reboot = func(int) error { return unix.EPERM }

			err := rebooter.Restart()
			Expect(errors.Is(err, unix.EPERM)).To(BeTrue())
		})
		It("rejects unknown targets", func() {
			Expect(rebooter.Reboot(constants.Target("recovery"))).ToNot(Succeed())
			Expect(commands).To(BeEmpty())
		})
	})
})
