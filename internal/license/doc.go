// Package license implements the client-side license verification core:
// a reconciliation state machine that validates an activation key against a
// remote authority, caches the result in a durable file for resilience, and
// derives the authorization status the host uses to gate feature flags.
//
// # Components
//
//   - Client: one-shot verification requests to the remote authority
//   - Store: the single durable license-state record on disk
//   - Checker: policy evaluation of host claims against granted flags
//   - Reconciler: the orchestrating cycle and the in-memory fast path
//   - Registry: process-wide singleton registration for the reconciler
//
// # Reconciliation Flow
//
// Each cycle runs:
//
//	1. Load the cached state from disk and seed the in-memory slot
//	2. Contact the remote authority (exactly one request)
//	3. On success, evaluate policy and derive the final status
//	4. Persist the merged record and swap it into the in-memory slot
//	5. On remote failure, fall back to the previously loaded state
//
// Failures never propagate out of the subsystem: the host always has some
// (possibly stale or absent) license state to read.
package license
