// Package manager coordinates the full conversation session lifecycle.
//
// A Manager ties the state store, the per-key mutation serializer, the
// cancellation registry, the backlog queue, and the stream pipeline into
// one front door. Callers use Send, Stop, Attach, and SwitchActive;
// everything else (queue draining, identity transitions, resume polling,
// title derivation) happens behind those calls.
//
// Concurrency contract: every state mutation for a session key runs under
// that key's serializer slot, in submission order. Network waits never
// hold the slot.
package manager
