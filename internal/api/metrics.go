package api

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"
)

const bytesPerMB = 1 << 20

// SystemMetrics is the body of GET /metrics.
type SystemMetrics struct {
	Timestamp string          `json:"timestamp"`
	Version   string          `json:"version"`
	Uptime    int64           `json:"uptime_seconds"`
	Process   ProcessMetrics  `json:"process"`
	Mailbox   MailboxMetrics  `json:"mailbox"`
	Feed      FeedMetrics     `json:"feed"`
	Backends  map[string]bool `json:"backends,omitempty"`
}

// ProcessMetrics is a subset of the Go runtime statistics.
type ProcessMetrics struct {
	Goroutines int     `json:"goroutines"`
	HeapMB     float64 `json:"heap_mb"`
	TotalMB    float64 `json:"total_alloc_mb"`
	GCRuns     uint32  `json:"gc_runs"`
}

// MailboxMetrics summarises the registry.
type MailboxMetrics struct {
	Devices  int    `json:"devices"`
	Pending  int    `json:"pending"`
	PollMode string `json:"poll_mode"`
}

// FeedMetrics describes the admin event feed.
type FeedMetrics struct {
	Clients int  `json:"clients"`
	Audit   bool `json:"audit"`
}

// handleMetrics reports process, mailbox and backend state.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	st := s.registry.Stats()
	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp: time.Now().UTC().Format(timeFormat),
		Version:   s.version,
		Uptime:    int64(time.Since(s.startTime).Seconds()),
		Process:   processMetrics(),
		Mailbox: MailboxMetrics{
			Devices:  st.Devices,
			Pending:  st.Pending,
			PollMode: string(s.poller.Mode()),
		},
		Feed: FeedMetrics{
			Clients: s.hub.ClientCount(),
			Audit:   s.audit != nil,
		},
		Backends: s.probeBackends(r.Context()),
	})
}

func processMetrics() ProcessMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ProcessMetrics{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(ms.HeapAlloc) / bytesPerMB,
		TotalMB:    float64(ms.TotalAlloc) / bytesPerMB,
		GCRuns:     ms.NumGC,
	}
}

// probeBackends runs every health check concurrently. Nil when none are set.
func (s *Server) probeBackends(ctx context.Context) map[string]bool {
	if len(s.checks) == 0 {
		return nil
	}
	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		out = make(map[string]bool, len(s.checks))
	)
	for name, c := range s.checks {
		wg.Go(func() {
			cctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
			defer cancel()
			ok := c.HealthCheck(cctx) == nil
			mu.Lock()
			out[name] = ok
			mu.Unlock()
		})
	}
	wg.Wait()
	return out
}
