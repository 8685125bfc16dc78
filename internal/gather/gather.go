// Package gather defines the interface shared by market-data downloaders.
package gather

import "context"

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass. It returns when the pass is done or
	// ctx is cancelled.
	Run(ctx context.Context) error
}
