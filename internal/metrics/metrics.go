// Package metrics provides application-level counters using stdlib expvar.
// Counters are automatically exported on the /debug/vars HTTP endpoint
// when the HTTP server is running.
package metrics

import "expvar"

// Operation counters.
var (
	SaveTotal           = expvar.NewInt("recalld_save_total")
	SaveIdempotent      = expvar.NewInt("recalld_save_idempotent_total")
	SaveDegraded        = expvar.NewInt("recalld_save_degraded_total")
	SearchTotal         = expvar.NewInt("recalld_search_total")
	SearchCacheHits     = expvar.NewInt("recalld_search_cache_hits_total")
	ConflictsDetected   = expvar.NewInt("recalld_conflicts_detected_total")
	ConflictsResolved   = expvar.NewInt("recalld_conflicts_resolved_total")
	SweepExpired        = expvar.NewInt("recalld_sweep_expired_total")
	CompensationRetries = expvar.NewInt("recalld_compensation_retries_total")
	CompensationFailed  = expvar.NewInt("recalld_compensation_failed_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
