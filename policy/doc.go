// Package policy applies filesystem ownership and permissions to published
// certificate bundles so that independently-owned consumer processes can
// read exactly the material they are entitled to.
//
// The public files (cert.pem, fullchain.pem) are world readable. The
// private key is readable only by its registered consumers: the engine
// picks a group shared by every consumer that declared NeedsPrivateKey,
// sets it as the key's group, and restricts the key to mode 0640. When the
// key consumers share no group the engine fails with ErrNoCommonGroup
// rather than widening access.
//
// Apply is idempotent. It stats before it mutates, so re-applying over an
// unchanged bundle performs no filesystem writes, and a failure partway
// through can simply be retried.
//
// The syscall surface (stat, chown, chmod) and host group membership
// lookups sit behind the FileOps and GroupResolver interfaces; production
// code uses the OS-backed implementations, tests substitute fakes.
package policy
