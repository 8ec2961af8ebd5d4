// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

package decision

import "fmt"

// Verdict is what the caller must do with the current boot.
type Verdict int

const (
	// ContinueBoot lets the running OS boot.
	ContinueBoot Verdict = iota
	// Divert reboots into the trusted OS.
	Divert
	// RestartAndReevaluate restarts so a module state change takes effect.
	RestartAndReevaluate
	// ReturnToNormal reboots from the trusted OS back into the normal OS.
	ReturnToNormal
	// PowerCycle powers the device off, only a cold reset re-activates the module.
	PowerCycle
)

func (v Verdict) String() string {
	switch v {
	case ContinueBoot:
		return "continue boot"
	case Divert:
		return "divert to trusted OS"
	case RestartAndReevaluate:
		return "restart and reevaluate"
	case ReturnToNormal:
		return "return to normal OS"
	case PowerCycle:
		return "power cycle"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// Decision is the verdict together with why it was reached.
type Decision struct {
	Verdict Verdict
	Reason  string
	// Err is the failure that forced the verdict, if any.
	Err error
}

func (d Decision) String() string {
	if d.Err != nil {
		return fmt.Sprintf("%s: %s: %v", d.Verdict, d.Reason, d.Err)
	}

	return fmt.Sprintf("%s: %s", d.Verdict, d.Reason)
}
