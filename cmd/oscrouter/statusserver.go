package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/etcaddy/oscrouter/health"
	"github.com/etcaddy/oscrouter/logfeed"
	"github.com/etcaddy/oscrouter/pkg/buffer"
	"github.com/etcaddy/oscrouter/status"
)

const statusPushInterval = 1 * time.Second

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statusSnapshot is the /status response shape: the per-worker Status
// Table rows alongside the Log Aggregator's own ring buffer statistics, so
// a dashboard can show how much trace volume is being dropped without a
// separate request.
type statusSnapshot struct {
	Workers []status.Entry      `json:"workers"`
	LogFeed buffer.StatsSummary `json:"log_feed"`
}

// newStatusHandler serves the Status Table snapshot and aggregate worker
// health as JSON, for a dashboard or uptime check to poll, plus a
// websocket variant that pushes a fresh snapshot whenever the table
// changes instead of requiring the dashboard to poll /status.
func newStatusHandler(statusTbl *status.Table, monitor *health.Monitor, logs *logfeed.Aggregator) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statusSnapshot{
			Workers: statusTbl.Snapshot(),
			LogFeed: logs.Stats(),
		})
	})

	mux.HandleFunc("/status/ws", func(w http.ResponseWriter, r *http.Request) {
		serveStatusWebsocket(statusTbl, w, r)
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		agg := monitor.AggregateHealth("oscrouter")
		w.Header().Set("Content-Type", "application/json")
		if !agg.IsHealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(agg)
	})

	return mux
}

// serveStatusWebsocket upgrades the connection and pushes a JSON snapshot
// of statusTbl every statusPushInterval while any entry has changed since
// the last push, until the client disconnects.
func serveStatusWebsocket(statusTbl *status.Table, w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(statusPushInterval)
	defer ticker.Stop()

	for range ticker.C {
		if !statusTbl.Dirty() {
			continue
		}
		if err := conn.WriteJSON(statusTbl.Snapshot()); err != nil {
			return
		}
	}
}
