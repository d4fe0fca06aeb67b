// Package keys provides the signing capability used to attest resolution
// reports, its signature scheme variants, and a local-first seed store for
// simulated enclave keys.
//
// Signers only ever sign a 32-byte digest. Private key material never leaves
// a Signer implementation; hardware-backed signers keep it inside the HSM.
package keys
