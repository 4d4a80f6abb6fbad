// Package cache persists the trust material needed to open secure sessions with locks.
//
// Obtaining a certificate requires registering a mobile identity with the remote API, which
// creates a new registration each time. Caching the resulting credential lets a client reconnect
// to a lock without any network calls. Records are keyed by the lock's serial number and device
// ID, so provisioning one lock never overwrites another lock's credential.
//
// Three backends are provided: [FileStore] (a JSON file, suitable for CLI tools), [KeyringStore]
// (the operating system's keyring) and [SQLStore] (an SQLite database, suitable for services
// that manage many locks). Every backend writes a credential as one serialized record, so a
// crash during a write never leaves a record that mixes old and new fields.
//
// Exported caches contain certificates; access controls should be used to prevent third parties
// from reading or tampering with the data.
package cache
