package align

import (
	"fmt"
	"sort"
	"sync"
)

// DefaultObjective is the statistic minimised by a search unless configured
// otherwise.
const DefaultObjective = "avg_3d"

// Objective scores a shift's statistics. Lower is better.
type Objective struct {
	Name        string                       `json:"name"`
	Description string                       `json:"description"`
	Score       func(AlignmentStats) float64 `json:"-"`
}

// ObjectiveRegistry holds named objectives.
type ObjectiveRegistry struct {
	mu         sync.RWMutex
	objectives map[string]*Objective
}

// NewObjectiveRegistry creates an empty registry.
func NewObjectiveRegistry() *ObjectiveRegistry {
	return &ObjectiveRegistry{objectives: make(map[string]*Objective)}
}

// Register adds obj, replacing any objective with the same name.
func (r *ObjectiveRegistry) Register(obj *Objective) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objectives[obj.Name] = obj
}

// Get returns the named objective.
func (r *ObjectiveRegistry) Get(name string) (*Objective, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	obj, ok := r.objectives[name]
	return obj, ok
}

// Lookup is Get with an error for unknown names. Empty name selects
// DefaultObjective.
func (r *ObjectiveRegistry) Lookup(name string) (*Objective, error) {
	if name == "" {
		name = DefaultObjective
	}
	obj, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown objective %q (available: %v)", name, r.Names())
	}
	return obj, nil
}

// Names lists registered objectives alphabetically.
func (r *ObjectiveRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.objectives))
	for n := range r.objectives {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// DefaultObjectiveRegistry returns a registry with the built-in objectives.
func DefaultObjectiveRegistry() *ObjectiveRegistry {
	reg := NewObjectiveRegistry()
	reg.Register(&Objective{
		Name:        "avg_3d",
		Description: "Mean 3D residual between image and EO positions.",
		Score:       func(s AlignmentStats) float64 { return s.Avg3D },
	})
	reg.Register(&Objective{
		Name:        "avg_2d",
		Description: "Mean horizontal residual; ignores the altitude datum offset.",
		Score:       func(s AlignmentStats) float64 { return s.Avg2D },
	})
	reg.Register(&Objective{
		Name:        "max_3d",
		Description: "Worst single 3D residual.",
		Score:       func(s AlignmentStats) float64 { return s.Max3D },
	})
	reg.Register(&Objective{
		Name:        "median_3d",
		Description: "Median 3D residual; robust to a few bad fixes.",
		Score:       func(s AlignmentStats) float64 { return s.Median3D },
	})
	reg.Register(&Objective{
		Name:        "rms_3d",
		Description: "Root mean square 3D residual.",
		Score:       func(s AlignmentStats) float64 { return s.RMS3D },
	})
	return reg
}
