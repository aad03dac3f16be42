/*
Package scheduler drives the placement cycle for a Treadmill cell.

The scheduler is responsible for assigning pending application instances
to servers with available capacity, honoring partition, trait, and
affinity constraints. It runs as a continuous background process,
rebuilding the cell model from the coordination store and placing any
app that isn't already running somewhere.

# Architecture

The scheduler operates on a fixed interval (default 5 seconds), running
one full cycle each tick:

	┌────────────────────────────────────────────────────────────┐
	│                    Scheduler Loop                          │
	│                   (Every N seconds)                        │
	└────────────────┬───────────────────────────────────────────┘
	                 │
	                 ▼
	┌────────────────────────────────────────────────────────────┐
	│  1. Rebuild the cell model (loader.LoadModel)              │
	│  2. Order unplaced apps by rank, priority, FIFO            │
	│  3. For each: search the bucket tree for a fitting server   │
	│     and persist the placement record                       │
	│  4. Check placement integrity and write reports             │
	└──────────────────────────────────────────────────────────────┘

A failed placement is logged and skipped; it is retried on the next
cycle once the cell model is reloaded.
*/
package scheduler
