package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kairos-io/go-tdlock/pkg/tpm12"
	"github.com/kairos-io/go-tdlock/pkg/types"
	"github.com/kairos-io/go-tdlock/pkg/utils"
	"github.com/spf13/viper"
)

// loadConfig assembles the configuration from flags, environment and config file.
func loadConfig() (types.Config, error) {
	cfg := types.DefaultConfig()

	cfg.TPMChip = viper.GetInt("tpm-chip")
	cfg.MEIDevice = viper.GetString("mei-device")
	cfg.DeviceWait = viper.GetDuration("device-wait")
	cfg.ReceiveTimeout = viper.GetDuration("receive-timeout")
	cfg.TrustedEntry = viper.GetString("trusted-entry")
	cfg.NormalEntry = viper.GetString("normal-entry")
	cfg.DryRun = viper.GetBool("dry-run")
	cfg.LogLevel = viper.GetString("log-level")
	cfg.Kmsg = viper.GetBool("kmsg")

	if viper.GetBool("debug") {
		cfg.LogLevel = "debug"
	}

	return cfg, cfg.Validate()
}

// newLogger builds the logger for cfg. The returned function releases the kernel log.
func newLogger(cfg types.Config) (*slog.Logger, func(), error) {
	level, err := utils.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	var kmsgWriter io.Writer

	release := func() {}

	if cfg.Kmsg {
		w, closer, err := utils.OpenKmsg()
		if err != nil {
			// not fatal, /dev/kmsg is missing in containers
			slog.Debug("kernel log unavailable", "error", err)
		} else {
			kmsgWriter = w
			release = func() { _ = closer.Close() }
		}
	}

	logger := utils.NewLogger(level, os.Stderr, kmsgWriter)
	slog.SetDefault(logger)

	return logger, release, nil
}

// lazyTPM opens the TPM device on first use, so a check that never reaches the TPM does not need it.
type lazyTPM struct {
	cfg    types.Config
	logger *slog.Logger
	dev    *tpm12.DeviceTransmitter
}

func (l *lazyTPM) Transmit(ctx context.Context, command []byte) ([]byte, error) {
	if l.dev == nil {
		path := l.cfg.TPMDevice()

		if err := utils.WaitForDevice(path, l.cfg.DeviceWait); err != nil {
			return nil, err
		}

		dev, err := tpm12.OpenDevice(path)
		if err != nil {
			return nil, err
		}

		l.logger.Debug("opened TPM", "device", path)
		l.dev = dev
	}

	return l.dev.Transmit(ctx, command)
}

func (l *lazyTPM) Close() error {
	if l.dev == nil {
		return nil
	}

	return l.dev.Close()
}

// waitForMEI logs when the MEI device does not show up; requests to it then fail on their own.
func waitForMEI(cfg types.Config, logger *slog.Logger) {
	if err := utils.WaitForDevice(cfg.MEIDevice, cfg.DeviceWait); err != nil {
		logger.Warn("MEI device not available", "device", cfg.MEIDevice, "error", err)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("couldn't encode output: %w", err)
	}

	return nil
}
