package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	failureCallbacks    atomic.Int64
	successCallbacks    atomic.Int64
	duplicateSuccesses  atomic.Int64
	retriesIssued       atomic.Int64
	retryRollbacks      atomic.Int64
	staleBatchesCurrent atomic.Int64
)

func Init() {}

func IncFailureCallbacks()   { failureCallbacks.Add(1) }
func IncSuccessCallbacks()   { successCallbacks.Add(1) }
func IncDuplicateSuccesses() { duplicateSuccesses.Add(1) }
func IncRetriesIssued()      { retriesIssued.Add(1) }
func IncRetryRollbacks()     { retryRollbacks.Add(1) }

func SetStaleBatches(n int) { staleBatchesCurrent.Store(int64(n)) }

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	fmt.Fprintf(w, "# HELP leadpilot_relay_failure_callbacks_total Number of scrape-failed callbacks accepted.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_relay_failure_callbacks_total counter\n")
	fmt.Fprintf(w, "leadpilot_relay_failure_callbacks_total %d\n", failureCallbacks.Load())

	fmt.Fprintf(w, "# HELP leadpilot_relay_success_callbacks_total Number of scrape-success callbacks accepted.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_relay_success_callbacks_total counter\n")
	fmt.Fprintf(w, "leadpilot_relay_success_callbacks_total %d\n", successCallbacks.Load())

	fmt.Fprintf(w, "# HELP leadpilot_relay_duplicate_successes_total Number of duplicate success inserts rejected with a conflict.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_relay_duplicate_successes_total counter\n")
	fmt.Fprintf(w, "leadpilot_relay_duplicate_successes_total %d\n", duplicateSuccesses.Load())

	fmt.Fprintf(w, "# HELP leadpilot_retry_issued_total Number of retry instructions forwarded to the automation webhook.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_retry_issued_total counter\n")
	fmt.Fprintf(w, "leadpilot_retry_issued_total %d\n", retriesIssued.Load())

	fmt.Fprintf(w, "# HELP leadpilot_retry_rollbacks_total Number of compensating rollbacks after a failed upstream retry call.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_retry_rollbacks_total counter\n")
	fmt.Fprintf(w, "leadpilot_retry_rollbacks_total %d\n", retryRollbacks.Load())

	fmt.Fprintf(w, "# HELP leadpilot_stale_batches Current number of batches classified stale by the reconciler.\n")
	fmt.Fprintf(w, "# TYPE leadpilot_stale_batches gauge\n")
	fmt.Fprintf(w, "leadpilot_stale_batches %d\n", staleBatchesCurrent.Load())
}

func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WritePrometheus(w)
	})
}
