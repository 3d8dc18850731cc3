package bridge

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"
)

// PermissionManager answers and requests per-device access rights.
type PermissionManager struct {
	b   *binding
	log *slog.Logger

	mu      sync.Mutex
	results map[int]bool
}

func newPermissionManager(b *binding, log *slog.Logger) *PermissionManager {
	return &PermissionManager{b: b, log: log, results: make(map[int]bool)}
}

// Has queries the platform for access to deviceID.
func (m *PermissionManager) Has(deviceID int) (bool, error) {
	var granted bool
	err := m.b.call("has_permission", func(p Platform) error {
		var err error
		granted, err = p.HasPermission(deviceID)
		return err
	})
	if err != nil {
		return false, err
	}
	return granted, nil
}

// Request starts the platform consent flow and returns immediately.
// onResult runs exactly once: later, from the platform's goroutine, when the
// flow completes, or synchronously with false when the request could not be
// dispatched. The returned error describes a dispatch failure only.
func (m *PermissionManager) Request(deviceID int, onResult func(granted bool)) error {
	reqID := ulid.Make().String()
	log := m.log.With("request_id", reqID, "device_id", deviceID)

	var once sync.Once
	complete := func(granted, record bool) {
		once.Do(func() {
			if record {
				m.mu.Lock()
				m.results[deviceID] = granted
				m.mu.Unlock()
			}
			log.Debug("permission request completed", "granted", granted)
			if onResult != nil {
				deliver(m.log, "permission_result", func() { onResult(granted) })
			}
		})
	}

	log.Debug("permission request dispatched")
	err := m.b.call("request_permission", func(p Platform) error {
		return p.RequestPermission(deviceID, func(granted bool) { complete(granted, true) })
	})
	if err != nil {
		complete(false, false)
		return err
	}
	return nil
}

// Last reports the result of the most recent completed request for deviceID.
func (m *PermissionManager) Last(deviceID int) (granted, known bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	granted, known = m.results[deviceID]
	return granted, known
}
