// Package store persists Wi-Fi credentials across power cycles.
package store

// Store is the interface for the credential store.
// Missing values read back as "" - the caller decides what absence means.
// Writes are last-write-wins, there is no versioning.
type Store interface {
	// SSID returns the stored network name, or "" if not configured.
	SSID() string

	// Password returns the stored network secret, or "" if not configured.
	Password() string

	// SaveCredentials stores the network name and secret, overwriting
	// any previous values.
	SaveCredentials(ssid, password string) error

	// Clear removes all stored credentials. There is no partial clear;
	// the supported reset path is Clear followed by a restart.
	Clear() error

	// Close releases the underlying storage.
	Close() error
}
