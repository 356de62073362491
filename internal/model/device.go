package model

import "time"

// DeviceInfo describes one known replica. Created on first registration,
// refreshed on every heartbeat or message, marked offline when unseen for
// longer than three heartbeat intervals.
type DeviceInfo struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Platform     string    `json:"platform"`
	LastSeen     time.Time `json:"last_seen"`
	SyncVersion  uint64    `json:"sync_version"`
	IsOnline     bool      `json:"is_online"`
	Capabilities []string  `json:"capabilities,omitempty"`
}

// HasCapability reports whether the device advertises the given capability
func (d *DeviceInfo) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}
