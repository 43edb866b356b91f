// Package authflow defines the collaborator interface for harvesting a
// bearer token from an interactive browser login — deliberately out of
// scope per spec.md §1/§6.3: this package has no real implementation,
// only the contract `glmproxy login` depends on.
package authflow

import "errors"

// ErrLoginNotImplemented is returned by the default Harvester: browser-driven
// token harvesting (chromedp/playwright-style automation) is explicitly
// outside this repository's scope.
var ErrLoginNotImplemented = errors.New("authflow: interactive login is not implemented in this build")

// Harvester drives whatever external process obtains a fresh bearer token
// (typically an embedded or system browser login) and returns it.
type Harvester interface {
	Harvest() (token string, err error)
}

// NullHarvester is the default Harvester: it always fails with
// ErrLoginNotImplemented, so `glmproxy login` has something to call without
// this package pulling in a browser-automation dependency.
type NullHarvester struct{}

// Harvest always returns ErrLoginNotImplemented.
func (NullHarvester) Harvest() (string, error) {
	return "", ErrLoginNotImplemented
}
