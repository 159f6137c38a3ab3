package monitor

import "context"

// Resolution is the outcome of an identity lookup.
type Resolution struct {
	// Identity is the resolved identity (e.g. a pid). Empty means not found.
	Identity string

	// Stale marks a target that exists but should be treated as absent,
	// such as a cached background process.
	Stale bool
}

// Found reports whether the target resolved to a usable identity.
func (r Resolution) Found() bool {
	return r.Identity != "" && !r.Stale
}

// Resolver looks up the current identity of a named target.
type Resolver interface {
	Resolve(ctx context.Context, target string) (Resolution, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, target string) (Resolution, error)

// Resolve calls f(ctx, target).
func (f ResolverFunc) Resolve(ctx context.Context, target string) (Resolution, error) {
	return f(ctx, target)
}
