// Package store defines the key/value capability every authcore component
// persists through, plus its two implementations.
//
// # Backends
//
//   - [Redis]: distributed, shared by every process; expiry is native (PEXPIRE).
//   - [Memory]: process-local map guarded by a mutex; expired entries are
//     hidden on read and reclaimed by a periodic sweep ([Memory.Start]).
//
// # Window semantics
//
// [Backend.IncrWindow] is the only read-modify-write primitive. It must be
// atomic per key: the first hit creates Count=1 with ResetAt=now+window,
// subsequent hits within the window increment Count and keep ResetAt, and the
// first hit after ResetAt starts a new window. Redis runs this as a single Lua
// script; Memory runs it under the map lock.
//
// # What this package must NOT do
//
//   - Interpret stored values (sessions and tokens are opaque bytes here).
//   - Import authcore or any sibling package (no upward imports).
package store
