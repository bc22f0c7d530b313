// Package billing owns the subscription surface of the service: checkout
// session creation, webhook ingestion, and the reconciliation engine that
// derives the stored plan/status record from provider-reported subscription
// state.
//
// The engine treats the payment provider as the source of truth. Every
// mutation is a pure function of one subscription object, which makes webhook
// replays and out-of-order deliveries safe, and the sync path re-derives the
// record on demand when local state may have drifted.
package billing
