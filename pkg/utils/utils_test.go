package utils

import (
	"bytes"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func TestSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Utils test Suite")
}

var _ = Describe("Utils tests", func() {
	Describe("ParseLevel", func() {
		DescribeTable("known levels",
			func(in string, level slog.Level) {
				l, err := ParseLevel(in)
				Expect(err).ToNot(HaveOccurred())
				Expect(l).To(Equal(level))
			},
			Entry("debug", "debug", slog.LevelDebug),
			Entry("upper case", "DEBUG", slog.LevelDebug),
			Entry("empty", "", slog.LevelInfo),
			Entry("warning", "warning", slog.LevelWarn),
			Entry("error", "error", slog.LevelError),
		)
		It("rejects unknown levels", func() {
			_, err := ParseLevel("verbose")
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("NewLogger", func() {
		It("mirrors lines to the kernel log with a prefix", func() {
			var out, kernel bytes.Buffer

			logger := NewLogger(slog.LevelInfo, &out, &kernel)
			logger.Debug("hidden")
			logger.Info("boot decision", "verdict", "continue boot")

			Expect(out.String()).To(ContainSubstring("verdict=\"continue boot\""))
			Expect(out.String()).ToNot(ContainSubstring("hidden"))
			Expect(kernel.String()).To(HavePrefix("[tdlock] "))
			Expect(kernel.String()).ToNot(HaveSuffix("\n"))
		})
		It("works without the kernel log", func() {
			var out bytes.Buffer

			NewLogger(slog.LevelDebug, &out, nil).Debug("shown")
			Expect(out.String()).To(ContainSubstring("shown"))
		})
	})

	Describe("WaitForDevice", func() {
		var tmpDir string
		var err error

		BeforeEach(func() {
			tmpDir, err = os.MkdirTemp("", "")
			Expect(err).ToNot(HaveOccurred())
		})

		AfterEach(func() {
			_ = os.RemoveAll(tmpDir)
		})

		It("returns at once for an existing device", func() {
			path := filepath.Join(tmpDir, "tpm0")
			Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())

			Expect(WaitForDevice(path, time.Second)).To(Succeed())
			Expect(WaitForDevice(path, 0)).To(Succeed())
		})
		It("waits for a device that shows up late", func() {
			path := filepath.Join(tmpDir, "mei0")

			go func() {
				defer GinkgoRecover()
				time.Sleep(100 * time.Millisecond)
				Expect(os.WriteFile(path, nil, 0o600)).To(Succeed())
			}()

			Expect(WaitForDevice(path, 5*time.Second)).To(Succeed())
		})
		It("gives up after the timeout", func() {
			path := filepath.Join(tmpDir, "missing")

			Expect(WaitForDevice(path, 200*time.Millisecond)).ToNot(Succeed())

			err := WaitForDevice(path, 0)
			Expect(errors.Is(err, fs.ErrNotExist)).To(BeTrue())
		})
	})
})
