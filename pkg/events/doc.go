/*
Package events is the VRM's analytics channel (spec §6): an in-memory
pub/sub broker publishing one Event per reservation lifecycle
transition. The shadow-transaction and optimisation-cycle EventTypes
are declared here, but nothing in the tree publishes them.

Grounded on the teacher's own events.Broker: a buffered event channel
feeding a broadcast loop that fans out to per-subscriber buffered
channels, publish never blocking on a slow or absent subscriber.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for evt := range sub {
			fmt.Println(evt.Type, evt.ReservationID)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventReservationCommitted, ReservationID: string(id)})

pkg/manager wires one analyticsListener per VRM that republishes every
reservation.Store state change onto the broker, so subscribers never
need to poll the store directly.
*/
package events
