// Package strategy defines the Classifier interface that maps a ticker's
// price history to a market-state signal, and provides a Registry for
// managing multiple classifier implementations.
package strategy

import (
	"sort"
	"time"

	"stockscan/internal/domain"
)

// Classifier assigns a MarketState to a ticker as of a date.
//
// Implementations must be pure: the same bars and asOf always produce the
// same Signal. A false second return value means "no signal" (no usable data
// on or before asOf) and is not an error.
type Classifier interface {
	// Name returns the unique identifier for this classifier.
	Name() string

	// Classify evaluates bars truncated at asOf.
	Classify(ticker string, bars []domain.Bar, asOf time.Time) (domain.Signal, bool)
}

// Registry holds a named collection of classifiers for lookup and enumeration.
type Registry struct {
	classifiers map[string]Classifier
}

// NewRegistry creates an empty classifier Registry.
func NewRegistry() *Registry {
	return &Registry{
		classifiers: make(map[string]Classifier),
	}
}

// Register adds a classifier to the registry, keyed by its Name().
func (r *Registry) Register(c Classifier) {
	r.classifiers[c.Name()] = c
}

// Get retrieves a classifier by name. The second return value indicates
// whether the classifier was found.
func (r *Registry) Get(name string) (Classifier, bool) {
	c, ok := r.classifiers[name]
	return c, ok
}

// List returns a sorted slice of all registered classifier names.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.classifiers))
	for name := range r.classifiers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
