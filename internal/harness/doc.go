// Package harness runs scripted sync scenarios against the engine.
//
// The harness plays the server over an in-memory transport: it accepts the
// client's stream, delivers scripted messages and records every message the
// client sends. Local intents are submitted through the engine's public
// API, so scenarios exercise the same path as the CLI.
//
// # Scenario Format
//
// Scenarios are YAML files, checked against an embedded CUE schema and then
// decoded strictly:
//
//	name: optimistic_create
//	description: "A create is confirmed by its action response"
//	steps:
//	  - server: reset_response
//	    batch: b1
//	    events:
//	      - { op: create, id: 1, name: apples, value: 3 }
//	  - intent: create
//	    name: jars
//	    value: 2
//	  - server: action_response
//	    action_id: action-1
//	    batch: b2
//	    events:
//	      - { op: create, id: 10, correlation: -1, name: jars, value: 2 }
//	  - intent: increment
//	    ref: { id: 10 }
//	  - reconnect: true
//	assertions:
//	  - type: final_state
//	    counters:
//	      - { id: 1, name: apples, value: 3 }
//	      - { id: 10, correlation: -1, name: jars, value: 3 }
//	  - type: acked
//	    batches: [b1, b2]
//
// # Assertion Types
//
//   - final_state: the store snapshot equals counters, in order
//   - sent_order: the kinds of actions sent equal actions, in order
//   - sent_count: an action kind was sent exactly count times
//   - acked: the acknowledged batches equal batches, in order
//   - pending: exactly count creates are unconfirmed
//
// # Deterministic Testing
//
// Action IDs are "<id_prefix>-N", correlation IDs count down from -1 and the
// wall clock is frozen, so the same scenario produces a byte-identical trace
// on every run. RunWithGolden compares that trace against
// testdata/golden/<name>.golden.
package harness
