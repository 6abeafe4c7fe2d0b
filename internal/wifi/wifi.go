// Package wifi manages the wireless interface through NetworkManager's
// nmcli tool: scanning, joining a network and running the open
// provisioning access point.
package wifi

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// portalConnection is the NetworkManager profile name used for the
// provisioning access point.
const portalConnection = "agroflow-portal"

// commandTimeout bounds every nmcli invocation.
const commandTimeout = 30 * time.Second

// Network is one visible wireless network.
type Network struct {
	SSID string `json:"ssid"`
	RSSI int    `json:"rssi"`
}

// runner executes an external command and returns its stdout.
// Swapped out in tests.
type runner func(name string, args ...string) ([]byte, error)

// Manager drives one wireless interface.
type Manager struct {
	iface  string
	logger *log.Logger
	run    runner
}

// New creates a Manager for the named interface.
func New(iface string, logger *log.Logger) *Manager {
	return &Manager{
		iface:  iface,
		logger: logger,
		run:    runCommand,
	}
}

// runCommand executes a command with a bounded timeout.
func runCommand(name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %s", name, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// HardwareAddr returns the interface's hardware address.
func (m *Manager) HardwareAddr() (net.HardwareAddr, error) {
	iface, err := net.InterfaceByName(m.iface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", m.iface, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", m.iface)
	}
	return iface.HardwareAddr, nil
}

// Scan triggers a wireless scan and returns the visible networks in scan
// order. Networks with an empty name are dropped.
func (m *Manager) Scan() ([]Network, error) {
	out, err := m.run("nmcli", "-t", "-f", "SSID,SIGNAL",
		"device", "wifi", "list", "ifname", m.iface, "--rescan", "yes")
	if err != nil {
		return nil, fmt.Errorf("wifi scan failed: %w", err)
	}

	var networks []Network
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Terse output is SSID:SIGNAL with ':' escaped inside the SSID.
		sep := strings.LastIndex(line, ":")
		if sep < 0 {
			continue
		}
		ssid := unescapeTerse(line[:sep])
		if ssid == "" {
			continue
		}
		signal, err := strconv.Atoi(line[sep+1:])
		if err != nil {
			continue
		}

		networks = append(networks, Network{
			SSID: ssid,
			RSSI: signalToRSSI(signal),
		})
	}

	if m.logger != nil {
		m.logger.Printf("[WiFi] Scan found %d networks", len(networks))
	}
	return networks, nil
}

// signalToRSSI converts NetworkManager's 0-100 signal quality back to an
// approximate dBm value (nm maps dBm to quality as 2*(dbm+100)).
func signalToRSSI(signal int) int {
	return signal/2 - 100
}

// unescapeTerse reverses nmcli's terse-mode escaping of ':' and '\'.
func unescapeTerse(s string) string {
	var sb strings.Builder
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			sb.WriteByte(c)
			escaped = false
			continue
		}
		if c == '\\' {
			escaped = true
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

// Connect joins the given network. The call is synchronous in nmcli;
// callers poll Connected for status.
func (m *Manager) Connect(ssid, password string) error {
	args := []string{"device", "wifi", "connect", ssid, "ifname", m.iface}
	if password != "" {
		args = append(args, "password", password)
	}

	if m.logger != nil {
		m.logger.Printf("[WiFi] Connecting to %q", ssid)
	}
	if _, err := m.run("nmcli", args...); err != nil {
		return fmt.Errorf("failed to connect to %q: %w", ssid, err)
	}
	return nil
}

// Connected reports whether the interface currently has a connection.
func (m *Manager) Connected() bool {
	out, err := m.run("nmcli", "-t", "-f", "DEVICE,STATE", "device", "status")
	if err != nil {
		if m.logger != nil {
			m.logger.Printf("[WiFi] Status check failed: %v", err)
		}
		return false
	}

	for _, line := range strings.Split(string(out), "\n") {
		parts := strings.SplitN(strings.TrimSpace(line), ":", 2)
		if len(parts) == 2 && parts[0] == m.iface {
			return parts[1] == "connected"
		}
	}
	return false
}

// StartAccessPoint brings up an open access point with a shared IPv4
// subnet, replacing any previous portal profile.
func (m *Manager) StartAccessPoint(name string) error {
	// Stale profile from an earlier boot is not an error.
	m.run("nmcli", "connection", "delete", portalConnection)

	_, err := m.run("nmcli", "connection", "add",
		"type", "wifi",
		"ifname", m.iface,
		"con-name", portalConnection,
		"autoconnect", "no",
		"ssid", name,
		"802-11-wireless.mode", "ap",
		"802-11-wireless.band", "bg",
		"ipv4.method", "shared")
	if err != nil {
		return fmt.Errorf("failed to create access point profile: %w", err)
	}

	if _, err := m.run("nmcli", "connection", "up", portalConnection); err != nil {
		return fmt.Errorf("failed to start access point: %w", err)
	}

	if m.logger != nil {
		m.logger.Printf("[WiFi] Access point %q started", name)
	}
	return nil
}

// StopAccessPoint tears down the provisioning access point profile.
func (m *Manager) StopAccessPoint() error {
	if _, err := m.run("nmcli", "connection", "delete", portalConnection); err != nil {
		return fmt.Errorf("failed to remove access point profile: %w", err)
	}
	return nil
}

// IPv4Addr returns the interface's current IPv4 address. In access point
// mode this is the address the captive DNS responder hands out.
func (m *Manager) IPv4Addr() (net.IP, error) {
	iface, err := net.InterfaceByName(m.iface)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", m.iface, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("failed to list addresses of %s: %w", m.iface, err)
	}
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			return ipNet.IP.To4(), nil
		}
	}
	return nil, fmt.Errorf("interface %s has no IPv4 address", m.iface)
}
