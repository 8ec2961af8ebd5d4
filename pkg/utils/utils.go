package utils

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/siderolabs/go-kmsg"
	"github.com/siderolabs/go-retry/retry"
	"golang.org/x/sys/unix"
)

// ParseLevel maps a log-level flag to a slog level
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}

// NewLogger returns a text logger writing to out and, when not nil, mirroring every line to kmsgWriter.
func NewLogger(level slog.Level, out io.Writer, kmsgWriter io.Writer) *slog.Logger {
	w := out
	if kmsgWriter != nil {
		w = io.MultiWriter(out, &prefixWriter{prefix: []byte(constants.KmsgPrefix + " "), w: kmsgWriter})
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenKmsg opens the kernel log for writing.
// The returned closer releases the device.
func OpenKmsg() (io.Writer, io.Closer, error) {
	f, err := os.OpenFile("/dev/kmsg", os.O_RDWR|unix.O_CLOEXEC|unix.O_NONBLOCK|unix.O_NOCTTY, 0o666)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open /dev/kmsg: %w", err)
	}

	return &kmsg.Writer{KmsgWriter: f}, f, nil
}

type prefixWriter struct {
	prefix []byte
	w      io.Writer
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	line := make([]byte, 0, len(p.prefix)+len(b))
	line = append(line, p.prefix...)
	line = append(line, bytes.TrimRight(b, "\n")...)

	if _, err := p.w.Write(line); err != nil {
		return 0, err
	}

	return len(b), nil
}

// WaitForDevice waits up to timeout for path to show up. Device nodes can appear late during early boot.
func WaitForDevice(path string, timeout time.Duration) error {
	check := func() error {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return retry.ExpectedError(err)
			}

			return err
		}

		return nil
	}

	if timeout <= 0 {
		_, err := os.Stat(path)

		return err
	}

	if err := retry.Constant(timeout, retry.WithUnits(50*time.Millisecond)).Retry(check); err != nil {
		return fmt.Errorf("device %s not available: %w", path, err)
	}

	return nil
}
