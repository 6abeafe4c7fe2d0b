// Package identity derives the stable device identity from the hardware
// network address. The identity doubles as the MQTT client ID and the
// per-device command-topic namespace.
package identity

import (
	"encoding/hex"
	"fmt"
	"net"
	"strings"
)

// ID is the 12-character uppercase-hex device identity.
type ID string

// FromMAC derives the device identity from a 6-byte hardware address:
// each byte rendered as two uppercase hex digits, in address order.
func FromMAC(hw net.HardwareAddr) (ID, error) {
	if len(hw) != 6 {
		return "", fmt.Errorf("expected 6-byte hardware address, got %d bytes", len(hw))
	}
	return ID(strings.ToUpper(hex.EncodeToString(hw))), nil
}

// String returns the identity as a plain string.
func (id ID) String() string {
	return string(id)
}

// CommandTopic returns the per-device remote command topic.
func (id ID) CommandTopic() string {
	return "sensors/" + string(id) + "/command"
}

// APName derives the provisioning access point name from the last three
// bytes of the hardware address, e.g. "AgroFlowSensor-1E229A".
func APName(prefix string, hw net.HardwareAddr) (string, error) {
	if len(hw) != 6 {
		return "", fmt.Errorf("expected 6-byte hardware address, got %d bytes", len(hw))
	}
	return prefix + "-" + strings.ToUpper(hex.EncodeToString(hw[3:])), nil
}
