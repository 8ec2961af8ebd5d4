// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package bootcert

import "fmt"

// Outcome is the verdict on a certificate.
type Outcome int

const (
	Valid Outcome = iota
	Expired
)

func (o Outcome) String() string {
	switch o {
	case Valid:
		return "valid"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Branch names the rule that decided an evaluation.
type Branch int

const (
	// BranchPermanent moves a non-expiring window to the current tick.
	BranchPermanent Branch = iota
	// BranchLocked leaves a collapsed window alone.
	BranchLocked
	// BranchClockBehind resets the window to [now,now] when the clock is before it.
	BranchClockBehind
	// BranchWindowExceeded collapses the window to its end.
	BranchWindowExceeded
	// BranchSliding advances the window start to the current tick.
	BranchSliding
)

func (b Branch) String() string {
	switch b {
	case BranchPermanent:
		return "permanent"
	case BranchLocked:
		return "locked"
	case BranchClockBehind:
		return "clock behind window"
	case BranchWindowExceeded:
		return "window exceeded"
	case BranchSliding:
		return "sliding window"
	default:
		return fmt.Sprintf("Branch(%d)", int(b))
	}
}

// Evaluation is the result of checking a certificate against the secure clock.
type Evaluation struct {
	// Certificate is the state to persist when Persist is set.
	Certificate Certificate
	Outcome     Outcome
	Persist     bool
	Branch      Branch
}

// Evaluate applies the anti-rollback rules to c at tick now. Arithmetic is
// unsigned 32 bit and wraps, as on the device.
//
// Moving forward consumes the window. Moving backward is tolerated once but
// costs whatever was left of the window, except for permanent certificates
// whose span is kept.
func Evaluate(c Certificate, now uint32) Evaluation {
	next := c

	if c.Permanent() {
		if now < c.RangeStart {
			next.RangeEnd = now + c.Span()
		}

		next.RangeStart = now

		return Evaluation{Certificate: next, Outcome: Valid, Persist: true, Branch: BranchPermanent}
	}

	if c.Locked() {
		return Evaluation{Certificate: next, Outcome: Expired, Branch: BranchLocked}
	}

	if now < c.RangeStart {
		next.RangeStart = now
		next.RangeEnd = now

		return Evaluation{Certificate: next, Outcome: Valid, Persist: true, Branch: BranchClockBehind}
	}

	if now > c.RangeEnd {
		next.RangeStart = c.RangeEnd

		return Evaluation{Certificate: next, Outcome: Expired, Persist: true, Branch: BranchWindowExceeded}
	}

	next.RangeStart = now

	return Evaluation{Certificate: next, Outcome: Valid, Persist: true, Branch: BranchSliding}
}
