/*
Package metrics exposes the VRM's Prometheus instrumentation: one
gauge/counter/histogram per concern a component tree or the reconciler
cares about (reservation counts by kind/state, per-component
fragmentation and load, shadow-transaction and optimisation-cycle
outcomes, workflow scheduling, RMS adapter call latency/errors).

Every metric is declared and registered once at package init, the same
global-collector convention the teacher's own pkg/metrics uses, and
collected into the running VRM by Collector on a fixed interval rather
than on every mutation - the same trade (some staleness for bounded
overhead) the teacher's collector makes.

Timer is the one shared helper: start it, do the work, call
ObserveDuration/ObserveDurationVec against whichever histogram the
caller owns.

	timer := metrics.NewTimer()
	ok := aci.Reserve(id, clientID, commitDeadline, executionDeadline)
	timer.ObserveDuration(metrics.ReserveLatency)
*/
package metrics
