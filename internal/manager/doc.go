// Package manager owns the single loaded model. It combines the session
// cache (at most one materialized backend session, with serialized
// load/evict/unload transitions) and the generation engine (cancellable
// token streams borrowing the session read-only for one request).
package manager
