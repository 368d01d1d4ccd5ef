package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	patientsCreated     atomic.Int64
	syncSucceeded       atomic.Int64
	syncFailed          atomic.Int64
	brokerUnreachable   atomic.Int64
	brokerUnexpected    atomic.Int64
	resyncRuns          atomic.Int64
	eventPublishFailure atomic.Int64

	mu       sync.Mutex
	checkins = map[string]int64{}
	requests = map[string]int64{}
)

func IncCheckin(outcome string) {
	mu.Lock()
	checkins[outcome]++
	mu.Unlock()
}

func ObserveRequest(status int) {
	class := fmt.Sprintf("%dxx", status/100)
	mu.Lock()
	requests[class]++
	mu.Unlock()
}

func IncPatientsCreated()      { patientsCreated.Add(1) }
func IncSyncSucceeded()        { syncSucceeded.Add(1) }
func IncSyncFailed()           { syncFailed.Add(1) }
func IncBrokerUnreachable()    { brokerUnreachable.Add(1) }
func IncBrokerUnexpected()     { brokerUnexpected.Add(1) }
func IncResyncRuns()           { resyncRuns.Add(1) }
func IncEventPublishFailures() { eventPublishFailure.Add(1) }

// Checkins returns the number of check-ins that ended with outcome.
func Checkins(outcome string) int64 {
	mu.Lock()
	defer mu.Unlock()
	return checkins[outcome]
}

func SyncFailed() int64 { return syncFailed.Load() }

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	write(w)
}

func write(w io.Writer) {
	counter(w, "intake_patients_created_total", "Patients created in the local record store.", patientsCreated.Load())
	counter(w, "intake_central_sync_succeeded_total", "Patients propagated to the central registry.", syncSucceeded.Load())
	counter(w, "intake_central_sync_failed_total", "Central propagation attempts that failed.", syncFailed.Load())
	counter(w, "intake_broker_unreachable_total", "Broker searches that timed out or could not connect.", brokerUnreachable.Load())
	counter(w, "intake_broker_unexpected_total", "Broker searches that returned an unexpected status.", brokerUnexpected.Load())
	counter(w, "intake_resync_runs_total", "Completed background resync runs.", resyncRuns.Load())
	counter(w, "intake_event_publish_failures_total", "Domain events that could not be published.", eventPublishFailure.Load())

	mu.Lock()
	defer mu.Unlock()
	labelled(w, "intake_checkins_total", "Check-ins by outcome.", "outcome", checkins)
	labelled(w, "intake_http_requests_total", "HTTP requests by status class.", "code", requests)
}

func counter(w io.Writer, name, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	fmt.Fprintf(w, "%s %d\n", name, value)
}

func labelled(w io.Writer, name, help, label string, values map[string]int64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s counter\n", name)
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "%s{%s=%q} %d\n", name, label, k, values[k])
	}
}
