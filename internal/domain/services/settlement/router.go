package settlement

import (
	"fmt"
	"sort"
	"strings"

	domainerrors "github.com/rail-service/yield_bridge/internal/domain/errors"
)

// Router maps a token to its settlement path. The table is fixed at construction.
type Router struct {
	tokens    map[string]Kind
	providers map[Kind]Provider
}

// NewRouter routes primaryToken to the fast path and poolTokens to the pool
// path. Every referenced kind must have a provider.
func NewRouter(primaryToken string, poolTokens []string, providers ...Provider) (*Router, error) {
	r := &Router{
		tokens:    make(map[string]Kind, len(poolTokens)+1),
		providers: make(map[Kind]Provider, len(providers)),
	}
	for _, p := range providers {
		if _, dup := r.providers[p.Kind()]; dup {
			return nil, fmt.Errorf("duplicate settlement provider for kind %q", p.Kind())
		}
		r.providers[p.Kind()] = p
	}

	if primaryToken != "" {
		r.tokens[strings.ToUpper(primaryToken)] = KindFast
	}
	for _, t := range poolTokens {
		t = strings.ToUpper(t)
		if _, dup := r.tokens[t]; dup {
			return nil, fmt.Errorf("token %s routed twice", t)
		}
		r.tokens[t] = KindPool
	}
	if len(r.tokens) == 0 {
		return nil, fmt.Errorf("settlement router needs at least one token")
	}

	for t, k := range r.tokens {
		if _, ok := r.providers[k]; !ok {
			return nil, fmt.Errorf("token %s routes to %q but no provider is registered", t, k)
		}
	}
	return r, nil
}

// Route returns the provider for token
func (r *Router) Route(token string) (Provider, error) {
	k, ok := r.tokens[strings.ToUpper(token)]
	if !ok {
		return nil, domainerrors.ValidationError("token", fmt.Sprintf("token %s is not supported", token))
	}
	return r.providers[k], nil
}

// Supports reports whether token has a settlement path
func (r *Router) Supports(token string) bool {
	_, ok := r.tokens[strings.ToUpper(token)]
	return ok
}

// Tokens lists routable tokens, sorted
func (r *Router) Tokens() []string {
	out := make([]string, 0, len(r.tokens))
	for t := range r.tokens {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
