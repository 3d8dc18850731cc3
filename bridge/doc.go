// Package bridge exposes USB-serial access to an RNode radio modem through a
// platform layer that owns the actual USB driver stack.
//
// A Handle is the only thing callers hold. It composes:
//   - a device registry that snapshots attached USB-serial devices
//   - permission queries and asynchronous permission requests
//   - a connection state machine that allows one live connection at a time
//   - a non-blocking data channel with event callbacks
//
// The handle is created by the caller and bound to a Platform at process
// start. While unbound, every operation degrades to a conservative value
// (empty, false, or a typed error) instead of failing loudly. Faults raised
// by the platform are caught at the handle, logged, and converted.
//
// Inbound bytes are stored once, in the platform's buffer. The data callback
// observes them without draining, so bytes delivered to it stay readable
// through Read until drained.
package bridge
