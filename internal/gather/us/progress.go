package us

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

const progressFile = ".us-alpaca-data.yaml"

// progressState is the on-disk form of a gather pass.
type progressState struct {
	// LastCompleted is the end date of the last pass that finished.
	LastCompleted string `yaml:"last_completed,omitempty"`
	// Target is the end date of the pass in progress.
	Target string `yaml:"target,omitempty"`
	// Empty lists symbols that returned no bars during the Target pass.
	Empty []string `yaml:"empty,omitempty"`
}

// progress tracks a gather pass for crash recovery and idempotency. It is
// safe for concurrent use.
type progress struct {
	mu    sync.Mutex
	path  string
	state progressState
	empty map[string]struct{}
}

// loadProgress reads the state file in dir, if any.
func loadProgress(dir string) (*progress, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating state dir: %w", err)
	}
	p := &progress{
		path:  filepath.Join(dir, progressFile),
		empty: make(map[string]struct{}),
	}
	data, err := os.ReadFile(p.path)
	if errors.Is(err, fs.ErrNotExist) {
		return p, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", p.path, err)
	}
	if err := yaml.Unmarshal(data, &p.state); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", p.path, err)
	}
	for _, s := range p.state.Empty {
		p.empty[s] = struct{}{}
	}
	return p, nil
}

// LastCompleted returns the end date of the last finished pass, or "".
func (p *progress) LastCompleted() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.LastCompleted
}

// Begin starts or resumes a pass ending at end. Empty symbols recorded for
// a different end date are forgotten.
func (p *progress) Begin(end string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Target == end {
		return nil
	}
	p.state.Target = end
	p.state.Empty = nil
	p.empty = make(map[string]struct{})
	return p.save()
}

// IsEmpty reports whether sym returned no bars earlier in this pass.
func (p *progress) IsEmpty(sym string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.empty[sym]
	return ok
}

// MarkEmpty records symbols that returned no bars.
func (p *progress) MarkEmpty(symbols []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	added := false
	for _, s := range symbols {
		if _, ok := p.empty[s]; ok {
			continue
		}
		p.empty[s] = struct{}{}
		p.state.Empty = append(p.state.Empty, s)
		added = true
	}
	if !added {
		return nil
	}
	sort.Strings(p.state.Empty)
	return p.save()
}

// Complete marks the pass ending at end as finished.
func (p *progress) Complete(end string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = progressState{LastCompleted: end}
	p.empty = make(map[string]struct{})
	return p.save()
}

// save writes the state through a temp file. Callers hold mu.
func (p *progress) save() error {
	data, err := yaml.Marshal(&p.state)
	if err != nil {
		return fmt.Errorf("encoding progress: %w", err)
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing progress: %w", err)
	}
	return os.Rename(tmp, p.path)
}
