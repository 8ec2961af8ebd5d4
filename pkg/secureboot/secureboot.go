// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at http://mozilla.org/MPL/2.0/.

// Package secureboot reports the UEFI Secure Boot state.
package secureboot

import "github.com/foxboron/go-uefi/efi"

// State is the firmware Secure Boot state.
type State struct {
	SecureBoot bool `json:"secure_boot"`
	SetupMode  bool `json:"setup_mode"`
}

// Enforcing reports whether Secure Boot is on and keys are enrolled.
func (s State) Enforcing() bool {
	return s.SecureBoot && !s.SetupMode
}

func (s State) String() string {
	switch {
	case s.Enforcing():
		return "enforcing"
	case s.SetupMode:
		return "setup mode"
	default:
		return "disabled"
	}
}

// Reader returns the firmware state.
type Reader struct {
	secureBoot func() bool
	setupMode  func() bool
}

func NewReader() *Reader {
	return &Reader{secureBoot: efi.GetSecureBoot, setupMode: efi.GetSetupMode}
}

func (r *Reader) State() State {
	return State{SecureBoot: r.secureBoot(), SetupMode: r.setupMode()}
}
