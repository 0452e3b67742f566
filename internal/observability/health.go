package observability

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// HealthChecker tracks liveness and per-dependency readiness.
// The service is ready once every registered dependency reports up.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]bool
	startTime  time.Time
}

// NewHealthChecker registers the named dependencies, all initially down.
func NewHealthChecker(components ...string) *HealthChecker {
	h := &HealthChecker{
		components: make(map[string]bool, len(components)),
		startTime:  time.Now(),
	}
	for _, c := range components {
		h.components[c] = false
	}
	return h
}

// SetComponent marks one dependency up or down. Unknown names are registered.
func (h *HealthChecker) SetComponent(name string, up bool) {
	h.mu.Lock()
	h.components[name] = up
	h.mu.Unlock()
}

// IsReady reports whether every dependency is up.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, up := range h.components {
		if !up {
			return false
		}
	}
	return true
}

func (h *HealthChecker) down() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var ret []string
	for name, up := range h.components {
		if !up {
			ret = append(ret, name)
		}
	}
	sort.Strings(ret)
	return ret
}

// LivenessHandler returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "alive",
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 when ready, 503 with the down dependencies otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	down := h.down()
	if len(down) == 0 {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status": "ready",
		})
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "not_ready",
		"down":   down,
	})
}
