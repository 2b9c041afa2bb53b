package stream

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/sparkvision/pipeline/logging"
)

// Status is a point-in-time snapshot of one camera.
type Status struct {
	Connected   bool    `json:"connected"`
	FPS         float64 `json:"fps"`
	FrameNumber int64   `json:"frameNumber"`
}

// Registry owns the set of camera sources, keyed by camera id.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]*Source
	running bool
	logger  logging.Logger
}

// NewRegistry returns an empty registry.
func NewRegistry(logger logging.Logger) *Registry {
	return &Registry{sources: map[string]*Source{}, logger: logger}
}

// Add creates a source from the config and registers it. If the registry
// is already running, the new source starts immediately.
func (r *Registry) Add(cfg Config, dial Dialer) (*Source, error) {
	src, err := NewSource(cfg, dial, r.logger)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sources[cfg.CameraID]; ok {
		return nil, errors.Errorf("camera %q already registered", cfg.CameraID)
	}
	r.sources[cfg.CameraID] = src
	if r.running {
		src.Start()
	}
	return src, nil
}

// Remove stops and deregisters a camera. Unknown ids are a no-op.
func (r *Registry) Remove(cameraID string) {
	r.mu.Lock()
	src, ok := r.sources[cameraID]
	delete(r.sources, cameraID)
	r.mu.Unlock()
	if ok {
		src.Stop()
	}
}

// Get returns the source for a camera id.
func (r *Registry) Get(cameraID string) (*Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[cameraID]
	return src, ok
}

// Sources returns all registered sources.
func (r *Registry) Sources() []*Source {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Source, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, src)
	}
	return out
}

// StartAll starts every registered camera.
func (r *Registry) StartAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = true
	for _, src := range r.sources {
		src.Start()
	}
}

// StopAll stops every registered camera.
func (r *Registry) StopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	for _, src := range r.sources {
		src.Stop()
	}
}

// Status snapshots every camera without touching producer state.
func (r *Registry) Status() map[string]Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Status, len(r.sources))
	for id, src := range r.sources {
		out[id] = Status{
			Connected:   src.Connected(),
			FPS:         src.FPS(),
			FrameNumber: src.FrameNumber(),
		}
	}
	return out
}
