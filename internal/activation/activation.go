// Package activation decides once, at startup, whether capture runs on a page.
//
// A page opts in with testmode=1 or debug=1 in its query string. The opt-in is
// persisted in a tab-scoped flag store so it survives same-tab navigation to
// URLs that no longer carry the parameter.
package activation

import (
	"fmt"
	"net/url"
)

// FlagKey is the store key holding the persisted opt-in.
const FlagKey = "pagetap.active"

// queryParams opt a page in when set to "1".
var queryParams = []string{"testmode", "debug"}

// Source records what enabled a policy.
type Source string

const (
	SourceNone   Source = "none"
	SourceQuery  Source = "query"
	SourceStore  Source = "store"
	// SourceForced marks a policy enabled by the embedding program.
	SourceForced Source = "forced"
)

// Policy is the resolved activation decision.
type Policy struct {
	Enabled bool
	// ShowHUD asks an embedding UI to present the operator overlay.
	ShowHUD bool
	Source  Source
}

// FlagStore is a tab-scoped persistent key/value store.
type FlagStore interface {
	Get(key string) (string, bool, error)
	Set(key, value string) error
}

// Resolve computes the policy from the page query and the flag store.
// A query opt-in is persisted; if persisting fails the policy is still enabled
// and the error is returned alongside it.
func Resolve(query url.Values, store FlagStore) (Policy, error) {
	if optedIn(query) {
		p := Policy{Enabled: true, ShowHUD: true, Source: SourceQuery}
		if store == nil {
			return p, nil
		}
		if err := store.Set(FlagKey, "1"); err != nil {
			return p, fmt.Errorf("persist activation flag: %w", err)
		}
		return p, nil
	}
	if store == nil {
		return Policy{Source: SourceNone}, nil
	}
	v, ok, err := store.Get(FlagKey)
	if err != nil {
		return Policy{Source: SourceNone}, fmt.Errorf("read activation flag: %w", err)
	}
	if ok && v == "1" {
		return Policy{Enabled: true, ShowHUD: true, Source: SourceStore}, nil
	}
	return Policy{Source: SourceNone}, nil
}

// ResolveURL is Resolve for the query of rawURL.
func ResolveURL(rawURL string, store FlagStore) (Policy, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Policy{Source: SourceNone}, fmt.Errorf("parse page url: %w", err)
	}
	return Resolve(u.Query(), store)
}

// Forced returns an enabled policy that bypasses the query convention.
func Forced() Policy { return Policy{Enabled: true, Source: SourceForced} }

func optedIn(query url.Values) bool {
	for _, name := range queryParams {
		if query.Get(name) == "1" {
			return true
		}
	}
	return false
}
