// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bootloader

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/kairos-io/go-tdlock/pkg/decision"
	"github.com/kairos-io/go-tdlock/pkg/types"
	"golang.org/x/sys/unix"
)

// BootReason compares the booted loader entry with the trusted OS entry.
type BootReason struct {
	vars         Variables
	trustedEntry string
}

func NewBootReason(vars Variables, trustedEntry string) *BootReason {
	return &BootReason{vars: vars, trustedEntry: trustedEntry}
}

// IsTrustedOS reports whether the trusted OS was booted. A missing LoaderEntryLast means it was not.
func (b *BootReason) IsTrustedOS(_ context.Context) (bool, error) {
	entry, err := b.vars.Read(constants.LoaderEntryLastName)
	if err != nil {
		return false, fmt.Errorf("couldn't read %s: %w", constants.LoaderEntryLastName, err)
	}

	return entry == b.trustedEntry, nil
}

// Rebooter carries out verdicts.
type Rebooter struct {
	vars   Variables
	config types.Config
	logger *slog.Logger

	sync   func()
	reboot func(cmd int) error
}

func NewRebooter(vars Variables, config types.Config, logger *slog.Logger) *Rebooter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Rebooter{
		vars:   vars,
		config: config,
		logger: logger,
		sync:   unix.Sync,
		reboot: unix.Reboot,
	}
}

// Reboot restarts into target for the next boot only.
func (r *Rebooter) Reboot(target constants.Target) error {
	entry, err := r.config.EntryFor(target)
	if err != nil {
		return err
	}

	r.logger.Info("rebooting", "target", string(target), "entry", entry, "dry_run", r.config.DryRun)

	if r.config.DryRun {
		return nil
	}

	if err := r.vars.Write(constants.LoaderEntryOneShotName, entry); err != nil {
		return fmt.Errorf("couldn't set %s to %q: %w", constants.LoaderEntryOneShotName, entry, err)
	}

	return r.syscall(unix.LINUX_REBOOT_CMD_RESTART)
}

// Restart restarts without changing the next boot entry.
func (r *Rebooter) Restart() error {
	r.logger.Info("restarting", "dry_run", r.config.DryRun)

	if r.config.DryRun {
		return nil
	}

	return r.syscall(unix.LINUX_REBOOT_CMD_RESTART)
}

// PowerOff powers the device off.
func (r *Rebooter) PowerOff() error {
	r.logger.Info("powering off", "dry_run", r.config.DryRun)

	if r.config.DryRun {
		return nil
	}

	return r.syscall(unix.LINUX_REBOOT_CMD_POWER_OFF)
}

func (r *Rebooter) syscall(cmd int) error {
	r.sync()

	if err := r.reboot(cmd); err != nil {
		return fmt.Errorf("reboot(%#x) failed: %w", cmd, err)
	}

	return nil
}

// Apply carries out the verdict of d. ContinueBoot does nothing.
func (r *Rebooter) Apply(d decision.Decision) error {
	switch d.Verdict {
	case decision.ContinueBoot:
		return nil
	case decision.Divert:
		return r.Reboot(constants.TargetTrusted)
	case decision.ReturnToNormal:
		return r.Reboot(constants.TargetNormal)
	case decision.RestartAndReevaluate:
		return r.Restart()
	case decision.PowerCycle:
		return r.PowerOff()
	default:
		return fmt.Errorf("unknown verdict %s", d.Verdict)
	}
}
