package app

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/procfoundry/procgate/internal/journal"
)

type runtimeMetrics struct {
	tracingEnabled           atomic.Int64
	tracingExportErrorsTotal atomic.Int64

	requestsGETTotal   atomic.Int64
	requestsPOSTTotal  atomic.Int64
	requestsOtherTotal atomic.Int64

	responsesMu       sync.Mutex
	responsesByStatus map[int]int64

	actionsOKTotal         atomic.Int64
	actionsRejectedTotal   atomic.Int64
	actionsExecFailedTotal atomic.Int64
	bytesRelayedTotal      atomic.Int64

	journalRecordFailuresTotal atomic.Int64
}

func newRuntimeMetrics() *runtimeMetrics {
	return &runtimeMetrics{
		responsesByStatus: make(map[int]int64),
	}
}

func (m *runtimeMetrics) setTracingEnabled(enabled bool) {
	if enabled {
		m.tracingEnabled.Store(1)
		return
	}
	m.tracingEnabled.Store(0)
}

func (m *runtimeMetrics) incTracingExportErrors() {
	m.tracingExportErrorsTotal.Add(1)
}

func (m *runtimeMetrics) incJournalRecordFailures() {
	m.journalRecordFailuresTotal.Add(1)
}

func (m *runtimeMetrics) observeRequest(method string, status int) {
	switch method {
	case "GET":
		m.requestsGETTotal.Add(1)
	case "POST":
		m.requestsPOSTTotal.Add(1)
	default:
		m.requestsOtherTotal.Add(1)
	}

	m.responsesMu.Lock()
	m.responsesByStatus[status]++
	m.responsesMu.Unlock()
}

func (m *runtimeMetrics) observeAction(outcome journal.Outcome, bytes int64) {
	switch outcome {
	case journal.OutcomeOK:
		m.actionsOKTotal.Add(1)
	case journal.OutcomeRejected:
		m.actionsRejectedTotal.Add(1)
	case journal.OutcomeExecFailed:
		m.actionsExecFailedTotal.Add(1)
	}
	if bytes > 0 {
		m.bytesRelayedTotal.Add(bytes)
	}
}

// writeText renders the counters in Prometheus text exposition format.
func (m *runtimeMetrics) writeText(w io.Writer) {
	fmt.Fprintf(w, "procgate_tracing_enabled %d\n", m.tracingEnabled.Load())
	fmt.Fprintf(w, "procgate_tracing_export_errors_total %d\n", m.tracingExportErrorsTotal.Load())

	fmt.Fprintf(w, "procgate_requests_total{method=%q} %d\n", "GET", m.requestsGETTotal.Load())
	fmt.Fprintf(w, "procgate_requests_total{method=%q} %d\n", "POST", m.requestsPOSTTotal.Load())
	fmt.Fprintf(w, "procgate_requests_total{method=%q} %d\n", "other", m.requestsOtherTotal.Load())

	m.responsesMu.Lock()
	statuses := make([]int, 0, len(m.responsesByStatus))
	for status := range m.responsesByStatus {
		statuses = append(statuses, status)
	}
	sort.Ints(statuses)
	for _, status := range statuses {
		fmt.Fprintf(w, "procgate_responses_total{status=\"%d\"} %d\n", status, m.responsesByStatus[status])
	}
	m.responsesMu.Unlock()

	fmt.Fprintf(w, "procgate_actions_total{outcome=%q} %d\n", journal.OutcomeOK, m.actionsOKTotal.Load())
	fmt.Fprintf(w, "procgate_actions_total{outcome=%q} %d\n", journal.OutcomeRejected, m.actionsRejectedTotal.Load())
	fmt.Fprintf(w, "procgate_actions_total{outcome=%q} %d\n", journal.OutcomeExecFailed, m.actionsExecFailedTotal.Load())
	fmt.Fprintf(w, "procgate_bytes_relayed_total %d\n", m.bytesRelayedTotal.Load())
	fmt.Fprintf(w, "procgate_journal_record_failures_total %d\n", m.journalRecordFailuresTotal.Load())
}
