package types

import (
	"fmt"
	"time"

	"github.com/kairos-io/go-tdlock/pkg/constants"
)

// Config is the runtime configuration assembled from flags, environment and config file.
type Config struct {
	// TPM chip index, selects /dev/tpm<N>.
	TPMChip int
	// Path to the MEI character device.
	MEIDevice string
	// How long to wait for device nodes to show up.
	DeviceWait time.Duration
	// Receive timeout for firmware replies, zero blocks.
	ReceiveTimeout time.Duration

	// Loader entry of the trusted OS, also compared against LoaderEntryLast.
	TrustedEntry string
	// Loader entry of the normal OS.
	NormalEntry string

	// Only report the decision, never reboot.
	DryRun bool

	LogLevel string
	// Mirror logs into /dev/kmsg
	Kmsg bool
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		TPMChip:      constants.DefaultTPMChip,
		MEIDevice:    constants.DefaultMEIDevice,
		DeviceWait:   constants.DefaultDeviceWait,
		TrustedEntry: constants.DefaultTrustedEntry,
		NormalEntry:  constants.DefaultNormalEntry,
		LogLevel:     "info",
		Kmsg:         true,
	}
}

// TPMDevice returns the TPM device path for the configured chip.
func (c Config) TPMDevice() string {
	return fmt.Sprintf(constants.TPMDevicePattern, c.TPMChip)
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.TPMChip < 0 {
		return fmt.Errorf("invalid TPM chip index %d", c.TPMChip)
	}

	if c.MEIDevice == "" {
		return fmt.Errorf("mei-device is required")
	}

	if c.TrustedEntry == "" || c.NormalEntry == "" {
		return fmt.Errorf("trusted-entry and normal-entry are required")
	}

	if c.TrustedEntry == c.NormalEntry {
		return fmt.Errorf("trusted-entry and normal-entry must differ, both are %q", c.TrustedEntry)
	}

	return nil
}

// EntryFor returns the loader entry for a reboot target.
func (c Config) EntryFor(target constants.Target) (string, error) {
	switch target {
	case constants.TargetTrusted:
		return c.TrustedEntry, nil
	case constants.TargetNormal:
		return c.NormalEntry, nil
	default:
		return "", fmt.Errorf("unknown reboot target %q", target)
	}
}
