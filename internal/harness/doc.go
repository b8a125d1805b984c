// Package harness runs conformance scenarios against a Replica.
//
// A scenario sets up an in-memory remote service, drives a Replica through
// a list of steps and checks the resulting trace and final state. Every
// step runs synchronously on the caller's goroutine, so the same scenario
// always produces the same trace and can be compared with a golden file.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: offline_round_trip
//	description: "Writes made offline reach the service once it is reachable"
//	online: true
//	remote:
//	  records:
//	    - { id: "1", name: alpha }
//	  token: t1                  # optional: require this bearer token
//	policy:
//	  discard_client_errors: true # optional
//	  max_attempts: 3             # optional
//	steps:
//	  - action: load
//	  - action: offline
//	  - action: write
//	    id: "1"
//	    name: gamma
//	  - action: sync
//	    expect: { error: offline }
//	assertions:
//	  - type: trace_contains
//	    line: 'PUT /items/1 {"name":"gamma"} -> 200'
//	  - type: final_records
//	    records:
//	      - { id: "1", name: gamma }
//
// # Step Actions
//
//   - load, load_local: Replica.Load and Replica.LoadLocal
//   - write: Replica.Write with id and name
//   - refresh: Replica.Refresh
//   - sync: Replica.Sync, draining the outbox and refetching
//   - reconcile: one reconciliation tick
//   - online, offline: flip the connectivity source
//   - script: statuses returned by the next remote calls (-1 is a transport failure)
//   - restart: rebuild the Replica over the same durable store
//
// # Assertion Types
//
//   - trace_contains: a trace line equals line
//   - trace_order: lines appear in order, not necessarily adjacent
//   - trace_count: exactly count lines start with prefix
//   - final_records: the local record set equals records
//   - remote_records: the remote record set equals records
//   - queue_len: the outbox holds count entries
//
// # Trace
//
// The trace interleaves step markers ("> write 1=gamma"), remote calls
// ("PUT /items/1 {...} -> 200"), credential refreshes, terminal replay
// states ("e-0001 COMMITTED attempt=1") and subscriber notifications
// ("notify [...]"). Outbox ids come from a sequence generator.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/offline_round_trip.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, msg := range result.Errors {
//	        log.Println(msg)
//	    }
//	}
package harness
