package monitoring

import (
	"encoding/json"
	"net/http"
	"time"

	"tailscale.com/tsweb"
)

// AttachAdminRoutes registers the OSC debug pages on mux under /debug/.
// routes is called per request and should return a JSON-serialisable view of
// the registered handlers.
func AttachAdminRoutes(mux *http.ServeMux, stats *Stats, routes func() any) {
	debug := tsweb.Debugger(mux)

	debug.KVFunc("OSC datagrams", func() any { return stats.Totals().Datagrams })
	debug.KVFunc("OSC dispatched", func() any { return stats.Totals().Dispatched })
	debug.KVFunc("OSC decode errors", func() any { return stats.Totals().DecodeErrors })
	debug.KVFunc("OSC uptime", func() any { return stats.Uptime().Round(time.Second).String() })

	debug.HandleFunc("osc-stats", "OSC dispatch counters and handler latency", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, struct {
			Totals  Counters       `json:"totals"`
			Latest  *StatsSnapshot `json:"latest,omitempty"`
			Latency LatencySummary `json:"handler_latency"`
		}{
			Totals:  stats.Totals(),
			Latest:  stats.LatestSnapshot(),
			Latency: stats.Latency(),
		})
	})

	debug.HandleFunc("osc-routes", "registered OSC addresses, bundle tags and funnels", func(w http.ResponseWriter, r *http.Request) {
		if routes == nil {
			writeJSON(w, struct{}{})
			return
		}
		writeJSON(w, routes())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
