package auth

// Scopes understood by the sync API.
const (
	ScopeSyncWrite     = "sync:write"
	ScopeSyncRead      = "sync:read"
	ScopeSyncSupervise = "sync:supervise"
)

// ScopeOAuthState marks the short-lived token carried through the vendor consent redirect.
const ScopeOAuthState = "oauth:state"
