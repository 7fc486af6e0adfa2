// Package hashchain implements the cryptographic core of the tamper-evident
// ledger: canonical event encoding, SHA-256 digest computation, hash-chain
// linkage, and range verification.
//
// Every event's hash is computed over a canonical, pipe-delimited rendering
// of its fields — including the previous event's hash — so a retroactive edit
// to any persisted row is detectable by recomputation. All functions here are
// pure and synchronous; persistence and I/O live elsewhere.
package hashchain
