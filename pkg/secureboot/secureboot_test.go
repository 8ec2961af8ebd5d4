package secureboot

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Secureboot test Suite")
}

var _ = Describe("Secureboot tests", func() {
	DescribeTable("state",
		func(secureBoot, setupMode bool, enforcing bool, description string) {
			r := &Reader{secureBoot: func() bool { return secureBoot }, setupMode: func() bool { return setupMode }}
			s := r.State()
			Expect(s.Enforcing()).To(Equal(enforcing))
			Expect(s.String()).To(Equal(description))
		},
		Entry("enforcing", true, false, true, "enforcing"),
		Entry("setup mode", true, true, false, "setup mode"),
		Entry("setup mode without secure boot", false, true, false, "setup mode"),
		Entry("disabled", false, false, false, "disabled"),
	)
})
