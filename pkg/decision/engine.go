// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package decision runs the once per boot theft deterrent check and returns
// what should happen to the current boot. It never reboots by itself.
package decision

import (
	"context"
	"log/slog"

	"github.com/kairos-io/go-tdlock/pkg/bootcert"
	"github.com/kairos-io/go-tdlock/pkg/constants"
	"github.com/kairos-io/go-tdlock/pkg/firmware"
)

// ProvisioningSource reads the firmware provisioning record.
type ProvisioningSource interface {
	Record(ctx context.Context) (firmware.ProvisioningRecord, error)
}

// Clock reads the secure clock.
type Clock interface {
	Ticks(ctx context.Context) (uint32, error)
}

// BootReason tells whether the running OS is the trusted one.
type BootReason interface {
	IsTrustedOS(ctx context.Context) (bool, error)
}

// SecurityModule is the part of the TPM the check drives.
type SecurityModule interface {
	IsNVLocked(ctx context.Context) (bool, error)
	AssertPhysicalPresence(ctx context.Context) error
	ContinueSelfTest(ctx context.Context) error
	IsEnabled(ctx context.Context) (bool, error)
	PhysicalEnable(ctx context.Context) error
	IsActive(ctx context.Context) (bool, error)
	IsTemporarilyActive(ctx context.Context) (bool, error)
	LockPhysicalPresence(ctx context.Context) error
	SetActive(ctx context.Context, active bool) error
	IsOwned(ctx context.Context) (bool, error)
	LockNVRegions(ctx context.Context, first uint32, count int) error
}

// CertificateStore keeps the boot certificate and the provision packet region.
type CertificateStore interface {
	Load(ctx context.Context) (bootcert.Certificate, error)
	Save(ctx context.Context, c bootcert.Certificate) error
	PacketPending(ctx context.Context) (bool, error)
}

// Engine sequences the check.
type Engine struct {
	provisioning ProvisioningSource
	clock        Clock
	module       SecurityModule
	certs        CertificateStore
	bootReason   BootReason
	logger       *slog.Logger
}

func NewEngine(provisioning ProvisioningSource, clock Clock, module SecurityModule, certs CertificateStore, bootReason BootReason, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		provisioning: provisioning,
		clock:        clock,
		module:       module,
		certs:        certs,
		bootReason:   bootReason,
		logger:       logger,
	}
}

func continueBoot(reason string, err error) Decision {
	return Decision{Verdict: ContinueBoot, Reason: reason, Err: err}
}

func divert(reason string, err error) Decision {
	return Decision{Verdict: Divert, Reason: reason, Err: err}
}

// Decide runs the check. Failing to tell whether the device applies is
// fail-open, failing to verify a device that applies is fail-closed.
func (e *Engine) Decide(ctx context.Context) Decision {
	d := e.decide(ctx)

	attrs := []any{"verdict", d.Verdict.String(), "reason", d.Reason}
	if d.Err != nil {
		attrs = append(attrs, "error", d.Err)
	}

	e.logger.Info("boot decision", attrs...)

	return d
}

func (e *Engine) decide(ctx context.Context) Decision {
	record, err := e.provisioning.Record(ctx)
	if err != nil || !record.Supported() {
		if err != nil {
			e.logger.Warn("couldn't read provisioning record", "error", err)
		}

		if e.runningTrustedOS(ctx) {
			return Decision{Verdict: ReturnToNormal, Reason: "platform does not support theft deterrence but the trusted OS was entered", Err: err}
		}

		return continueBoot("platform does not support theft deterrence", err)
	}

	e.logger.Debug("platform supports theft deterrence")

	if e.runningTrustedOS(ctx) {
		return continueBoot("running the trusted OS", nil)
	}

	locked, err := e.module.IsNVLocked(ctx)
	if err != nil {
		return divert("couldn't read the NV lock flag", err)
	}

	if !locked {
		return continueBoot("TPM NV storage was never locked in manufacturing", nil)
	}

	if _, err := e.clock.Ticks(ctx); err != nil {
		return divert("secure clock is not reachable", err)
	}

	if err := e.module.AssertPhysicalPresence(ctx); err != nil {
		return divert("couldn't assert physical presence", err)
	}

	if err := e.module.ContinueSelfTest(ctx); err != nil {
		e.logger.Debug("continue self test failed", "error", err)
	}

	if d, done := e.ensureReady(ctx); done {
		return d
	}

	owned, err := e.module.IsOwned(ctx)
	if err != nil {
		return divert("couldn't read the TPM owner flag", err)
	}

	if !owned {
		return continueBoot("TPM has no owner", nil)
	}

	cert, err := e.certs.Load(ctx)
	if err != nil {
		return continueBoot("no valid boot certificate", err)
	}

	e.logger.Debug("boot certificate", "certificate", cert.String())

	pending, err := e.certs.PacketPending(ctx)
	if err != nil {
		return divert("couldn't read the provision packet region", err)
	}

	if pending {
		return divert("a provision packet is pending", nil)
	}

	return e.checkCertificate(ctx, cert)
}

// runningTrustedOS treats an unreadable boot reason as the normal OS.
func (e *Engine) runningTrustedOS(ctx context.Context) bool {
	trusted, err := e.bootReason.IsTrustedOS(ctx)
	if err != nil {
		e.logger.Warn("couldn't read the boot reason", "error", err)

		return false
	}

	return trusted
}

// ensureReady enables and activates the module. It returns done when the
// check cannot go on this boot.
func (e *Engine) ensureReady(ctx context.Context) (Decision, bool) {
	enabled, err := e.module.IsEnabled(ctx)
	if err != nil {
		return divert("couldn't read the TPM enabled flag", err), true
	}

	if !enabled {
		e.logger.Info("TPM is disabled, enabling it")

		if err := e.module.PhysicalEnable(ctx); err != nil {
			return divert("couldn't enable the TPM", err), true
		}
	}

	active, err := e.module.IsActive(ctx)
	if err != nil {
		return divert("couldn't read the TPM active flag", err), true
	}

	if active {
		temporary, err := e.module.IsTemporarilyActive(ctx)
		if err != nil {
			return divert("couldn't read the TPM volatile deactivated flag", err), true
		}

		if !temporary {
			return Decision{Verdict: PowerCycle, Reason: "TPM is deactivated until the next cold reset"}, true
		}

		if err := e.module.LockPhysicalPresence(ctx); err != nil {
			e.logger.Warn("couldn't lock physical presence", "error", err)
		}
	} else {
		e.logger.Info("TPM is deactivated, activating it")

		if err := e.module.SetActive(ctx, true); err != nil {
			return divert("couldn't activate the TPM", err), true
		}

		return Decision{Verdict: RestartAndReevaluate, Reason: "TPM activation takes effect after a restart"}, true
	}

	enabled, err = e.module.IsEnabled(ctx)
	if err != nil {
		return divert("couldn't read the TPM enabled flag", err), true
	}

	active, err = e.module.IsActive(ctx)
	if err != nil {
		return divert("couldn't read the TPM active flag", err), true
	}

	if !enabled || !active {
		return divert("TPM is not enabled and active", nil), true
	}

	return Decision{}, false
}

// checkCertificate runs the anti-rollback evaluation and locks the secure storage on success.
func (e *Engine) checkCertificate(ctx context.Context, cert bootcert.Certificate) Decision {
	now, err := e.clock.Ticks(ctx)
	if err != nil {
		return divert("secure clock is not reachable", err)
	}

	eval := bootcert.Evaluate(cert, now)

	e.logger.Info("boot certificate evaluated",
		"ticks", now,
		"branch", eval.Branch.String(),
		"outcome", eval.Outcome.String(),
		"before", cert.String(),
		"after", eval.Certificate.String(),
	)

	if eval.Persist {
		if err := e.certs.Save(ctx, eval.Certificate); err != nil {
			return divert("couldn't save the boot certificate", err)
		}
	}

	if eval.Outcome == bootcert.Expired {
		return divert("boot certificate expired", nil)
	}

	if err := e.module.LockNVRegions(ctx, constants.SecureStorageFirstIndex, constants.SecureStorageRegions); err != nil {
		e.logger.Warn("couldn't lock the secure storage", "error", err)
	}

	return continueBoot("boot certificate is valid", nil)
}
