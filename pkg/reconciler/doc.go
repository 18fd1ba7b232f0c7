/*
Package reconciler runs the VRM's two background correction loops: a
deadline queue that cancels or finishes reservations whose commit or
execution window has passed, and an optimizer that repacks AcI
schedules when system-wide satisfaction exceeds a threshold.

# Deadline queue

The caller that reserved a reservation (cmd/vrm, after a workflow is
scheduled) registers its commit deadline (cancel if never committed)
and execution deadline (mark Finished once the task would have
completed) on a single shared min-heap rather than spawning a
goroutine per reservation; Component.Reserve itself does not register
anything here:

	queue := reconciler.NewDeadlineQueue(vrm.Components, vrm.Store, clock, log)
	queue.Register(reservationID, componentID, commitDeadline, executionDeadline)
	queue.Start()
	defer queue.Stop()

One ticker drains whatever has come due since the previous tick and
acts on it: a missed commit deadline calls Delete on the owning
component; a missed execution deadline transitions the reservation to
Finished.

# Optimizer

The optimizer implements the shadow-schedule repack from spec §4.6: on
a fixed interval, if the component tree's system-wide satisfaction
exceeds a configured threshold (default 0.5), every AcI leaf has its
active reservations pulled into a private shadow, reinserted
longest-task-first, and the repack is committed only if it strictly
reduces fragmentation versus the live schedule - otherwise the shadow
is discarded and the AcI is left untouched.

	opt := reconciler.NewOptimizer(vrm.Master, vrm.Store, 0.5, log)
	opt.Start()
	defer opt.Stop()

Repacking is scoped per AcI rather than as one whole-subtree shadow
transaction: component.Component exposes no shadow-aware Reserve or
Delete at the interface level, so a tree-wide repack would need either
a larger interface change or coordinating every descendant's shadow by
hand. Per-AcI repacking gets the same fragmentation benefit with a much
smaller blast radius per pass.
*/
package reconciler
