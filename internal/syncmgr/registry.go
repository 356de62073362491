package syncmgr

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/driftsync/driftsync/internal/model"
	"github.com/driftsync/driftsync/internal/syncerr"
)

// Registry tracks the known replicas. It is bounded: registering beyond
// maxDevices evicts the least recently seen offline device, and never an
// online one.
type Registry struct {
	mu         sync.Mutex
	devices    map[string]*model.DeviceInfo
	maxDevices int
	onEvict    func()
	logger     *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(maxDevices int, logger *zap.Logger) *Registry {
	if maxDevices <= 0 {
		maxDevices = defaultMaxDevices
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		devices:    make(map[string]*model.DeviceInfo),
		maxDevices: maxDevices,
		logger:     logger,
	}
}

// OnEvict installs a hook called once per evicted device
func (r *Registry) OnEvict(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvict = fn
}

// Register adds or refreshes a device. Under maxDevices pressure the least
// recently seen offline device is evicted to make room; if every slot is
// held by an online device the registration is refused.
func (r *Registry) Register(info *model.DeviceInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, known := r.devices[info.ID]; known {
		existing.Name = info.Name
		existing.Platform = info.Platform
		existing.SyncVersion = info.SyncVersion
		existing.Capabilities = info.Capabilities
		// A delayed heartbeat still refreshes the descriptive fields but
		// must not move LastSeen backwards
		if info.LastSeen.After(existing.LastSeen) {
			existing.LastSeen = info.LastSeen
		}
		existing.IsOnline = true
		return nil
	}

	if len(r.devices) >= r.maxDevices {
		if !r.evictLocked() {
			return syncerr.New(syncerr.ErrCodeUnavailable,
				"device registry full and all devices online", nil).
				WithDetail("max_devices", r.maxDevices)
		}
	}

	registered := *info
	registered.IsOnline = true
	r.devices[info.ID] = &registered
	r.logger.Info("Device registered",
		zap.String("device_id", info.ID),
		zap.String("platform", info.Platform))
	return nil
}

// evictLocked drops the least recently seen offline device.
// Returns false when no device is evictable.
func (r *Registry) evictLocked() bool {
	var victim *model.DeviceInfo
	for _, device := range r.devices {
		if device.IsOnline {
			continue
		}
		if victim == nil || device.LastSeen.Before(victim.LastSeen) {
			victim = device
		}
	}
	if victim == nil {
		return false
	}

	delete(r.devices, victim.ID)
	if r.onEvict != nil {
		r.onEvict()
	}
	r.logger.Info("Evicted offline device",
		zap.String("device_id", victim.ID),
		zap.Time("last_seen", victim.LastSeen))
	return true
}

// Touch refreshes a device's last-seen time and marks it online.
// Returns false for devices the registry has never heard of.
func (r *Registry) Touch(deviceID string, at time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, known := r.devices[deviceID]
	if !known {
		return false
	}
	if at.After(device.LastSeen) {
		device.LastSeen = at
	}
	device.IsOnline = true
	return true
}

// MarkOffline flags a device as offline without forgetting it
func (r *Registry) MarkOffline(deviceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if device, known := r.devices[deviceID]; known {
		device.IsOnline = false
	}
}

// SweepOffline marks every device unseen since the cutoff as offline and
// returns their IDs. Duplicate or delayed heartbeats only ever refresh
// LastSeen, so the sweep is idempotent.
func (r *Registry) SweepOffline(cutoff time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var swept []string
	for id, device := range r.devices {
		if device.IsOnline && device.LastSeen.Before(cutoff) {
			device.IsOnline = false
			swept = append(swept, id)
		}
	}
	return swept
}

// Get returns a copy of the device entry
func (r *Registry) Get(deviceID string) (*model.DeviceInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	device, known := r.devices[deviceID]
	if !known {
		return nil, false
	}
	copied := *device
	return &copied, true
}

// Snapshot returns copies of all entries ordered by device ID
func (r *Registry) Snapshot() []*model.DeviceInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.DeviceInfo, 0, len(r.devices))
	for _, device := range r.devices {
		copied := *device
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Counts returns the total and online device counts
func (r *Registry) Counts() (total, online int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	total = len(r.devices)
	for _, device := range r.devices {
		if device.IsOnline {
			online++
		}
	}
	return total, online
}
