// versioning.go - Structural decompositions and the compatibility discipline.
//
// Every framed type registers a Decomposition: its tag, a version number and the
// ordered tags of its children. A snapshot of all decompositions is kept as a test
// fixture; CheckCompatible fails when a decomposition changed while its version
// stayed the same. Enums marked Open may append variants without a bump.

package serialize

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"sort"
	"sync"

	"github.com/iotaledger/hive.go/ierrors"
)

// Decomposition describes the structure of one serializable type.
type Decomposition struct {
	Tag      string   `json:"tag"`
	Version  uint16   `json:"version"`
	Children []string `json:"children"`
	Open     bool     `json:"open,omitempty"`
}

func (d Decomposition) String() string {
	return fmt.Sprintf("%s[v%d]%v", d.Tag, d.Version, d.Children)
}

// Registry holds the current decompositions keyed by tag.
type Registry struct {
	mu    sync.RWMutex
	byTag map[string]Decomposition
}

func NewRegistry() *Registry {
	return &Registry{byTag: make(map[string]Decomposition)}
}

// Register adds a decomposition; tags are unique.
func (r *Registry) Register(d Decomposition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byTag[d.Tag]; exists {
		return ierrors.Wrapf(ErrDuplicateTag, "%s", d.Tag)
	}
	r.byTag[d.Tag] = d

	return nil
}

func (r *Registry) MustRegister(d Decomposition) {
	if err := r.Register(d); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(tag string) (Decomposition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byTag[tag]

	return d, ok
}

// Decompositions returns all entries sorted by tag.
func (r *Registry) Decompositions() []Decomposition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Decomposition, 0, len(r.byTag))
	for _, d := range r.byTag {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tag < out[j].Tag })

	return out
}

// CheckCompatible compares the registry against a retained snapshot.
func (r *Registry) CheckCompatible(snapshot []Decomposition) error {
	var errs []error
	for _, old := range snapshot {
		current, ok := r.Lookup(old.Tag)
		switch {
		case !ok:
			errs = append(errs, ierrors.Wrapf(ErrIncompatibleChange, "%s was removed", old.Tag))
		case current.Version < old.Version:
			errs = append(errs, ierrors.Wrapf(ErrIncompatibleChange, "%s version went backwards (%d < %d)", old.Tag, current.Version, old.Version))
		case current.Version > old.Version:
			// bumped: any structural change is allowed
		case slices.Equal(current.Children, old.Children):
		case current.Open && isPrefix(old.Children, current.Children):
		default:
			errs = append(errs, ierrors.Wrapf(ErrIncompatibleChange, "%s changed from %v to %v at version %d", old.Tag, old.Children, current.Children, old.Version))
		}
	}
	if len(errs) == 0 {
		return nil
	}

	return ierrors.Join(errs...)
}

func isPrefix(prefix, full []string) bool {
	return len(prefix) <= len(full) && slices.Equal(prefix, full[:len(prefix)])
}

// LoadSnapshot reads a JSON decomposition fixture.
func LoadSnapshot(r io.Reader) ([]Decomposition, error) {
	var snapshot []Decomposition
	if err := json.NewDecoder(r).Decode(&snapshot); err != nil {
		return nil, ierrors.Wrap(err, "failed to decode decomposition snapshot")
	}

	return snapshot, nil
}

// WriteSnapshot writes the registry as an indented JSON fixture.
func (r *Registry) WriteSnapshot(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(r.Decompositions())
}

// Default is the process registry populated by package init functions.
var Default = NewRegistry()

// Register adds d to the Default registry and panics on duplicates.
func Register(d Decomposition) {
	Default.MustRegister(d)
}
