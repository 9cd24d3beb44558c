// contract.go - Contract state and the actions an intent can carry.
//
// Contract logic runs outside the ledger. A call declares the state it leaves
// behind and the shielded effects it claims; the ledger checks those claims
// against the coin references of the call's segment.

package ledger

import (
	"fmt"
	"io"
	"slices"

	"github.com/benbjohnson/immutable"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/zswap"
)

// MaintenanceAuthority may update a contract when Threshold members of Committee sign.
type MaintenanceAuthority struct {
	Committee []crypto.VerifyingKey
	Threshold uint32
	Counter   uint32
}

func (a MaintenanceAuthority) isMember(vk crypto.VerifyingKey) bool {
	return slices.ContainsFunc(a.Committee, func(member crypto.VerifyingKey) bool { return member.Bytes() == vk.Bytes() })
}

// ContractState is the public state of a deployed contract. EntryPoints is sorted.
type ContractState struct {
	Data        []byte
	EntryPoints []string
	Authority   MaintenanceAuthority
}

func (c ContractState) hasEntryPoint(name string) bool {
	_, found := slices.BinarySearch(c.EntryPoints, name)

	return found
}

func (c ContractState) clone() ContractState {
	return ContractState{
		Data:        slices.Clone(c.Data),
		EntryPoints: slices.Clone(c.EntryPoints),
		Authority: MaintenanceAuthority{
			Committee: slices.Clone(c.Authority.Committee),
			Threshold: c.Authority.Threshold,
			Counter:   c.Authority.Counter,
		},
	}
}

func sortedEntryPoints(names []string) []string {
	out := slices.Clone(names)
	slices.Sort(out)

	return slices.Compact(out)
}

// ContractDeploy creates a contract. Its address commits to the initial state and the nonce.
type ContractDeploy struct {
	Initial ContractState
	Nonce   [32]byte
}

// NewContractDeploy draws a fresh nonce for initial.
func NewContractDeploy(initial ContractState) (ContractDeploy, error) {
	seed, err := crypto.RandomElement()
	if err != nil {
		return ContractDeploy{}, err
	}
	b := seed.Bytes()

	initial = initial.clone()
	initial.EntryPoints = sortedEntryPoints(initial.EntryPoints)

	return ContractDeploy{Initial: initial, Nonce: crypto.Blake2b([]byte("ledger:deploy-nonce"), b[:])}, nil
}

func (d ContractDeploy) Address() (crypto.ContractAddress, error) {
	body, err := encode(func(w io.WriteSeeker) error { return writeContractState(w, d.Initial) })
	if err != nil {
		return crypto.ContractAddress{}, err
	}

	return crypto.ContractAddress(crypto.Blake2b([]byte("ledger:contract-address"), d.Nonce[:], body)), nil
}

// Effects are the shielded consequences a contract call claims.
type Effects struct {
	ClaimedNullifiers []zswap.Nullifier
	ClaimedReceives   []zswap.Commitment
	// Mints maps a domain separator to the amount of the contract's token minted.
	Mints map[[32]byte]uint64
}

// ContractCall runs EntryPoint of a deployed contract, leaving NextState behind.
type ContractCall struct {
	Address    crypto.ContractAddress
	EntryPoint string
	Effects    Effects
	NextState  []byte
}

// MaintenanceUpdate changes the entry points or the authority of a contract.
// Signatures[i] is made by Signers[i], who must sit on the current committee.
type MaintenanceUpdate[S proofs.SignatureStage] struct {
	Address           crypto.ContractAddress
	AddEntryPoints    []string
	RemoveEntryPoints []string
	NewAuthority      *MaintenanceAuthority
	Counter           uint32
	Signers           []crypto.VerifyingKey
	Signatures        []S
}

// SigningMessage is what committee members sign. It covers neither signers nor signatures.
func (m MaintenanceUpdate[S]) SigningMessage() ([]byte, error) {
	body, err := encode(func(w io.WriteSeeker) error { return writeMaintenanceBody(w, m) })
	if err != nil {
		return nil, err
	}
	digest := crypto.Blake2b([]byte("ledger:maintenance"), body)

	return digest[:], nil
}

func verifyMaintenance(m MaintenanceUpdate[crypto.Signature], authority MaintenanceAuthority) error {
	if len(m.Signers) != len(m.Signatures) {
		return ierrors.Wrapf(ErrSignatureCount, "%d signers, %d signatures", len(m.Signers), len(m.Signatures))
	}
	msg, err := m.SigningMessage()
	if err != nil {
		return err
	}

	seen := make(map[crypto.UserAddress]struct{}, len(m.Signers))
	for i, signer := range m.Signers {
		if !authority.isMember(signer) {
			return ierrors.Wrapf(ErrInvalidSignature, "%s is not a committee member", signer)
		}
		if _, dup := seen[signer.Address()]; dup {
			return ierrors.Wrapf(ErrInvalidSignature, "%s signed twice", signer)
		}
		if !signer.Verify(msg, m.Signatures[i]) {
			return ierrors.Wrapf(ErrInvalidSignature, "maintenance signature of %s", signer)
		}
		seen[signer.Address()] = struct{}{}
	}
	if uint32(len(seen)) < authority.Threshold {
		return ierrors.Wrapf(ErrMaintenanceThreshold, "%d of %d", len(seen), authority.Threshold)
	}

	return nil
}

// ContractAction is exactly one of a deploy, a call or a maintenance update.
type ContractAction[S proofs.SignatureStage] struct {
	Deploy      *ContractDeploy
	Call        *ContractCall
	Maintenance *MaintenanceUpdate[S]
}

func DeployAction[S proofs.SignatureStage](d ContractDeploy) ContractAction[S] {
	return ContractAction[S]{Deploy: &d}
}

func CallAction[S proofs.SignatureStage](c ContractCall) ContractAction[S] {
	return ContractAction[S]{Call: &c}
}

func MaintenanceAction[S proofs.SignatureStage](m MaintenanceUpdate[S]) ContractAction[S] {
	return ContractAction[S]{Maintenance: &m}
}

func (a ContractAction[S]) valid() bool {
	n := 0
	if a.Deploy != nil {
		n++
	}
	if a.Call != nil {
		n++
	}
	if a.Maintenance != nil {
		n++
	}

	return n == 1
}

func (a ContractAction[S]) String() string {
	switch {
	case a.Deploy != nil:
		address, err := a.Deploy.Address()
		if err != nil {
			return "Deploy(invalid)"
		}

		return fmt.Sprintf("Deploy(%s)", address)
	case a.Call != nil:
		return fmt.Sprintf("Call(%s.%s)", a.Call.Address, a.Call.EntryPoint)
	case a.Maintenance != nil:
		return fmt.Sprintf("Maintenance(%s, counter %d)", a.Maintenance.Address, a.Maintenance.Counter)
	default:
		return "ContractAction(invalid)"
	}
}

func eraseActionSignatures[S proofs.SignatureStage](a ContractAction[S]) ContractAction[proofs.SignatureErased] {
	out := ContractAction[proofs.SignatureErased]{Deploy: a.Deploy, Call: a.Call}
	if m := a.Maintenance; m != nil {
		out.Maintenance = &MaintenanceUpdate[proofs.SignatureErased]{
			Address:           m.Address,
			AddEntryPoints:    m.AddEntryPoints,
			RemoveEntryPoints: m.RemoveEntryPoints,
			NewAuthority:      m.NewAuthority,
			Counter:           m.Counter,
			Signers:           m.Signers,
			Signatures:        make([]proofs.SignatureErased, len(m.Signers)),
		}
	}

	return out
}

func signAction(a ContractAction[proofs.SignatureErased], keys map[crypto.UserAddress]crypto.SigningKey) (ContractAction[crypto.Signature], error) {
	out := ContractAction[crypto.Signature]{Deploy: a.Deploy, Call: a.Call}
	m := a.Maintenance
	if m == nil {
		return out, nil
	}

	msg, err := m.SigningMessage()
	if err != nil {
		return out, err
	}
	signed := &MaintenanceUpdate[crypto.Signature]{
		Address:           m.Address,
		AddEntryPoints:    m.AddEntryPoints,
		RemoveEntryPoints: m.RemoveEntryPoints,
		NewAuthority:      m.NewAuthority,
		Counter:           m.Counter,
		Signers:           m.Signers,
		Signatures:        make([]crypto.Signature, len(m.Signers)),
	}
	for i, signer := range m.Signers {
		key, ok := keys[signer.Address()]
		if !ok {
			return out, ierrors.Wrapf(ErrMissingSigningKey, "committee member %s", signer)
		}
		if signed.Signatures[i], err = key.Sign(msg); err != nil {
			return out, err
		}
	}
	out.Maintenance = signed

	return out, nil
}

// MintedType is the token type a contract mints under domainSep.
func MintedType(address crypto.ContractAddress, domainSep [32]byte) crypto.TokenType {
	return crypto.ContractTokenType(address, domainSep)
}

type addressComparer struct{}

func (addressComparer) Compare(a, b crypto.ContractAddress) int {
	return slices.Compare(a[:], b[:])
}

func newContractMap() *immutable.SortedMap[crypto.ContractAddress, ContractState] {
	return immutable.NewSortedMap[crypto.ContractAddress, ContractState](addressComparer{})
}

// applyAction folds one contract action into the contract map. refs are the
// coin references of the action's segment.
func applyAction(contracts *immutable.SortedMap[crypto.ContractAddress, ContractState], a ContractAction[proofs.SignatureErased], refs []zswap.CoinRef) (*immutable.SortedMap[crypto.ContractAddress, ContractState], error) {
	switch {
	case !a.valid():
		return contracts, ErrInvalidAction

	case a.Deploy != nil:
		address, err := a.Deploy.Address()
		if err != nil {
			return contracts, err
		}
		if _, exists := contracts.Get(address); exists {
			return contracts, ierrors.Wrapf(ErrContractExists, "%s", address)
		}
		initial := a.Deploy.Initial.clone()
		initial.EntryPoints = sortedEntryPoints(initial.EntryPoints)

		return contracts.Set(address, initial), nil

	case a.Call != nil:
		state, ok := contracts.Get(a.Call.Address)
		if !ok {
			return contracts, ierrors.Wrapf(ErrUnknownContract, "%s", a.Call.Address)
		}
		if !state.hasEntryPoint(a.Call.EntryPoint) {
			return contracts, ierrors.Wrapf(ErrUnknownEntryPoint, "%s.%s", a.Call.Address, a.Call.EntryPoint)
		}
		if err := checkEffects(a.Call.Address, a.Call.Effects, refs); err != nil {
			return contracts, err
		}
		state = state.clone()
		state.Data = slices.Clone(a.Call.NextState)

		return contracts.Set(a.Call.Address, state), nil

	default:
		m := a.Maintenance
		state, ok := contracts.Get(m.Address)
		if !ok {
			return contracts, ierrors.Wrapf(ErrUnknownContract, "%s", m.Address)
		}
		if m.Counter != state.Authority.Counter {
			return contracts, ierrors.Wrapf(ErrMaintenanceCounter, "expected %d, got %d", state.Authority.Counter, m.Counter)
		}
		state = state.clone()
		state.EntryPoints = slices.DeleteFunc(state.EntryPoints, func(name string) bool { return slices.Contains(m.RemoveEntryPoints, name) })
		state.EntryPoints = sortedEntryPoints(append(state.EntryPoints, m.AddEntryPoints...))
		if m.NewAuthority != nil {
			state.Authority.Committee = slices.Clone(m.NewAuthority.Committee)
			state.Authority.Threshold = m.NewAuthority.Threshold
		}
		state.Authority.Counter++

		return contracts.Set(m.Address, state), nil
	}
}

func checkEffects(address crypto.ContractAddress, effects Effects, refs []zswap.CoinRef) error {
	spent := make(map[zswap.Nullifier]struct{})
	received := make(map[zswap.Commitment]struct{})
	for _, ref := range refs {
		if ref.Contract != address {
			continue
		}
		if ref.Nullifier != nil {
			spent[*ref.Nullifier] = struct{}{}
		}
		if ref.Commitment != nil {
			received[*ref.Commitment] = struct{}{}
		}
	}

	for _, nf := range effects.ClaimedNullifiers {
		if _, ok := spent[nf]; !ok {
			return ierrors.Wrapf(ErrUnclaimedEffect, "nullifier %s", nf)
		}
	}
	for _, cm := range effects.ClaimedReceives {
		if _, ok := received[cm]; !ok {
			return ierrors.Wrapf(ErrUnclaimedEffect, "commitment %s", cm)
		}
	}

	return nil
}
