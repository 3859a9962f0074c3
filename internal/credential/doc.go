// Package credential issues broker credentials for provisioned drones.
//
// An Issuer derives the broker username from the drone ID, draws a random
// secret from crypto/rand and hashes it with Argon2id in PHC string format.
// Only the hash is meant to be persisted; the plaintext secret is returned
// once to the caller and never stored. The package performs no I/O.
package credential
