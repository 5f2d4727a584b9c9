// Package noop provides an OrderingHandle that imposes no ordering at all,
// for callers who submit independent records with no cross-transaction
// sequencing requirement.
package noop

import "context"

// Handle is an OrderingHandle whose two stages are immediate no-ops.
type Handle struct{}

func (Handle) EnterDeviceSubmission(ctx context.Context) (func(), error) {
	return func() {}, nil
}

func (Handle) EnterFinalize(ctx context.Context) (func(), error) {
	return func() {}, nil
}
