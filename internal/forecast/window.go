package forecast

import (
	"sync"

	"pipewatch/internal/models"
)

// WindowStore keeps a bounded ring of recent readings per device, feeding
// the engine's forecast cycles. Appends evict the oldest sample once a
// device's window is full.
type WindowStore struct {
	mu       sync.RWMutex
	capacity int
	windows  map[string]*deviceWindow
}

type deviceWindow struct {
	pipelineID string
	readings   []models.Reading
}

// NewWindowStore creates a store holding up to capacity readings per device.
func NewWindowStore(capacity int) *WindowStore {
	if capacity <= 0 {
		capacity = 120
	}
	return &WindowStore{
		capacity: capacity,
		windows:  make(map[string]*deviceWindow),
	}
}

// Append records a reading in the device's window, creating the window on
// first observation of the device.
func (s *WindowStore) Append(r models.Reading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[r.DeviceID]
	if !ok {
		w = &deviceWindow{
			pipelineID: r.PipelineID,
			readings:   make([]models.Reading, 0, s.capacity),
		}
		s.windows[r.DeviceID] = w
	}

	if len(w.readings) >= s.capacity {
		w.readings = w.readings[1:]
	}
	w.readings = append(w.readings, r)
	w.pipelineID = r.PipelineID
}

// Window returns a copy of the device's current window and its pipeline.
// The copy keeps callers from racing with concurrent appends.
func (s *WindowStore) Window(deviceID string) (string, []models.Reading) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.windows[deviceID]
	if !ok {
		return "", nil
	}

	out := make([]models.Reading, len(w.readings))
	copy(out, w.readings)
	return w.pipelineID, out
}

// Devices lists all devices with at least one recorded reading.
func (s *WindowStore) Devices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]string, 0, len(s.windows))
	for id := range s.windows {
		devices = append(devices, id)
	}
	return devices
}

// Remove drops a device's window when it leaves the topology.
func (s *WindowStore) Remove(deviceID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, deviceID)
}
