// Package node holds the boot-time mode decision and the operating-mode
// state machine.
package node

import "agroflow/internal/store"

// Mode is the run mode chosen once at boot. The two modes are mutually
// exclusive; switching requires a restart.
type Mode int

const (
	// ModeProvisioning brings up the captive portal to collect
	// credentials.
	ModeProvisioning Mode = iota

	// ModeOperating joins the configured network and publishes
	// telemetry.
	ModeOperating
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeProvisioning:
		return "provisioning"
	case ModeOperating:
		return "operating"
	default:
		return "unknown"
	}
}

// SelectMode picks the run mode: no stored network name means the node
// is unconfigured and must be provisioned.
func SelectMode(st store.Store) Mode {
	if st.SSID() == "" {
		return ModeProvisioning
	}
	return ModeOperating
}
