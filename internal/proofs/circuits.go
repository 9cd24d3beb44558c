// circuits.go - Registry of circuits addressable by key location.
//
// Packages defining circuits register them at init time. A definition knows how
// to build an empty circuit for compilation and how to assign flat public and
// private input vectors to its fields.

package proofs

import (
	"math/big"
	"sort"
	"sync"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark-crypto/ecc/bw6-761/fr"
	"github.com/consensys/gnark/backend/witness"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/iotaledger/hive.go/ierrors"
)

// CircuitDefinition describes one registered circuit.
type CircuitDefinition struct {
	Location   string
	NumPublic  int
	NumPrivate int
	Circuit    func() frontend.Circuit
	Assign     func(public, private []fr.Element) frontend.Circuit
}

type compiledCircuit struct {
	once sync.Once
	ccs  constraint.ConstraintSystem
	err  error
}

var (
	circuitsMu sync.RWMutex
	circuits   = make(map[string]CircuitDefinition)
	compiled   sync.Map
)

// RegisterCircuit adds def to the registry.
func RegisterCircuit(def CircuitDefinition) error {
	circuitsMu.Lock()
	defer circuitsMu.Unlock()

	if _, exists := circuits[def.Location]; exists {
		return ierrors.Wrapf(ErrDuplicateCircuit, "%s", def.Location)
	}
	circuits[def.Location] = def

	return nil
}

func LookupCircuit(location string) (CircuitDefinition, error) {
	circuitsMu.RLock()
	defer circuitsMu.RUnlock()

	def, ok := circuits[location]
	if !ok {
		return CircuitDefinition{}, ierrors.Wrapf(ErrUnknownCircuit, "%s", location)
	}

	return def, nil
}

// Locations lists registered key locations in sorted order.
func Locations() []string {
	circuitsMu.RLock()
	defer circuitsMu.RUnlock()

	out := make([]string, 0, len(circuits))
	for loc := range circuits {
		out = append(out, loc)
	}
	sort.Strings(out)

	return out
}

// ConstrainBinding adds a constraint over the binding input. A public input
// that appears in no constraint does not bind a Groth16 proof.
func ConstrainBinding(api frontend.API, binding frontend.Variable) {
	api.Mul(binding, binding)
}

// Compile compiles the circuit at location over the BW6-761 scalar field, once per process.
func Compile(location string) (constraint.ConstraintSystem, error) {
	def, err := LookupCircuit(location)
	if err != nil {
		return nil, err
	}

	entry, _ := compiled.LoadOrStore(location, &compiledCircuit{})
	c := entry.(*compiledCircuit)
	c.once.Do(func() {
		c.ccs, c.err = frontend.Compile(ecc.BW6_761.ScalarField(), r1cs.NewBuilder, def.Circuit())
	})
	if c.err != nil {
		return nil, ierrors.Wrapf(c.err, "failed to compile %s", location)
	}

	return c.ccs, nil
}

// Var converts a field element into a witness value.
func Var(e fr.Element) *big.Int {
	return e.BigInt(new(big.Int))
}

// Assignment checks the input counts and builds the witness assignment.
func (d CircuitDefinition) Assignment(public, private []fr.Element) (frontend.Circuit, error) {
	if len(public) != d.NumPublic {
		return nil, ierrors.Wrapf(ErrInputCount, "%s: %d public inputs, want %d", d.Location, len(public), d.NumPublic)
	}
	if private != nil && len(private) != d.NumPrivate {
		return nil, ierrors.Wrapf(ErrInputCount, "%s: %d private inputs, want %d", d.Location, len(private), d.NumPrivate)
	}
	if private == nil {
		private = make([]fr.Element, d.NumPrivate)
	}

	return d.Assign(public, private), nil
}

// Witness builds a full or public-only gnark witness for the inputs.
func (d CircuitDefinition) Witness(public, private []fr.Element, publicOnly bool) (witness.Witness, error) {
	assignment, err := d.Assignment(public, private)
	if err != nil {
		return nil, err
	}
	if publicOnly {
		return frontend.NewWitness(assignment, ecc.BW6_761.ScalarField(), frontend.PublicOnly())
	}

	return frontend.NewWitness(assignment, ecc.BW6_761.ScalarField())
}
