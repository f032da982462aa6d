// Package sim provides the discrete-event engine of the workflow simulator.
//
// # Reading Guide
//
// Start with these files to understand the simulation kernel:
//   - ticket.go: Ticket lifecycle (backlog → dev → review → testing → closed) and history
//   - event.go: Event types that drive the simulation (Arrival, ServiceCompletion, StintExpiry)
//   - workflow.go: Routing, feedback loops and greedy service starts
//   - simulator.go: The event loop, horizon handling and finalization
//
// # Architecture
//
// A run is single-threaded. Every state mutation happens inside an event's
// Execute, which delegates to WorkflowLogic. Components never share a random
// source: PartitionedRNG hands each subsystem (arrivals, service, state,
// routing, churn) its own generator so changing one stream leaves the others
// untouched.
//
//   - SystemState: stage queues, backlog, ticket registry and assignments
//   - DeveloperPool: semi-Markov agents (OFF, DEV, REV, TEST) with stints
//     that only elapse while idle, plus service time while busy
//   - ServiceTimeSampler: per-stage parametric service times
//   - TicketSelector: FIFO or churn-weighted queue discipline
//   - StatsCollector: per-ticket microdata, time-weighted integrals and the
//     utilization and Little checks
//
// Sub-packages:
//   - sim/report/: CSV reports, SQLite export, run digest and microdata verification
//   - sim/trace/: transition trace recording
//
// Simulated time is measured in days.
package sim
