/*
Package manager builds a live VRM instance from a validated configuration
document and wires its cross-cutting subsystems together.

# Architecture

A VRM deployment is a tree of components rooted at one master ADC:

	┌─────────────────────────── VRM ────────────────────────────┐
	│                                                              │
	│                         ADC (master)                        │
	│                    /          |          \                  │
	│                 ADC          AcI         AcI                │
	│                /    \                                       │
	│             AcI     AcI                                     │
	│                                                              │
	│  shared across every component in the tree:                 │
	│    - reservation.Store   (authoritative reservation state)  │
	│    - shadow.Manager      (nested shadow transactions)       │
	│    - workflow.Scheduler  (HEFT-Sync multi-task placement)   │
	│    - events.Broker       (analytics output)                  │
	│    - metrics.Collector   (Prometheus gauges)                 │
	└──────────────────────────────────────────────────────────────┘

Build reads a pkg/config.Document, validates it, and constructs the
component tree bottom-up: every AcI first (each with its own backing RMS
adapter and SlottedSchedule), then ADCs in dependency order since an
ADC's children may themselves be not-yet-built ADCs.

# Lifecycle

Build returns a *VRM ready to serve reservation operations; Start begins
its background loops (metrics collection, the deadline queue, and the
optimizer), and Stop tears all three of those down along with the event
broker. Nothing in this package runs leader election or replicates
state across machines - a VRM is a single-process scheduler, not a
distributed consensus system.
*/
package manager
