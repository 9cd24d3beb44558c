// cost.go - Synthetic cost of a transaction and its fee under a cost model.

package ledger

import (
	"fmt"
	"io"

	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"
	"github.com/iotaledger/hive.go/lo"
	"github.com/shopspring/decimal"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/proofs"
)

// FeeDriftBound is how far the fee of a mock-proved transaction may differ from
// the fee of the same transaction with real proofs. Block usage counts every
// proof and signature at its nominal size, so the fee does not depend on the stage.
const FeeDriftBound = 0

// Compute units charged per verification.
const (
	proofVerificationCost     = 1_000
	signatureVerificationCost = 50
	bindingVerificationCost   = 100
)

var signatureSize = uint64(len(lo.PanicOnErr(encode(func(w io.WriteSeeker) error {
	return crypto.Signature{}.Serialize(w)
}))))

// SyntheticCost measures the resources a transaction consumes.
type SyntheticCost struct {
	Compute    uint64
	Read       uint64
	Write      uint64
	BlockUsage uint64
}

func (c SyntheticCost) Add(other SyntheticCost) (SyntheticCost, error) {
	var out SyntheticCost
	var err error
	if out.Compute, err = safemath.SafeAdd(c.Compute, other.Compute); err != nil {
		return out, ierrors.Wrap(ErrArithmeticOverflow, "compute")
	}
	if out.Read, err = safemath.SafeAdd(c.Read, other.Read); err != nil {
		return out, ierrors.Wrap(ErrArithmeticOverflow, "read")
	}
	if out.Write, err = safemath.SafeAdd(c.Write, other.Write); err != nil {
		return out, ierrors.Wrap(ErrArithmeticOverflow, "write")
	}
	if out.BlockUsage, err = safemath.SafeAdd(c.BlockUsage, other.BlockUsage); err != nil {
		return out, ierrors.Wrap(ErrArithmeticOverflow, "block usage")
	}

	return out, nil
}

func (c SyntheticCost) String() string {
	return fmt.Sprintf("SyntheticCost{compute: %d, read: %d, write: %d, block usage: %d}", c.Compute, c.Read, c.Write, c.BlockUsage)
}

// CostModel prices each cost dimension in Dust atoms.
type CostModel struct {
	ComputePrice    decimal.Decimal `yaml:"compute_price"`
	ReadPrice       decimal.Decimal `yaml:"read_price"`
	WritePrice      decimal.Decimal `yaml:"write_price"`
	BlockUsagePrice decimal.Decimal `yaml:"block_usage_price"`
}

func DefaultCostModel() CostModel {
	return CostModel{
		ComputePrice:    decimal.NewFromInt(10),
		ReadPrice:       decimal.NewFromInt(100),
		WritePrice:      decimal.NewFromInt(1_000),
		BlockUsagePrice: decimal.NewFromInt(5),
	}
}

func (m CostModel) Validate() error {
	for name, price := range map[string]decimal.Decimal{
		"compute":     m.ComputePrice,
		"read":        m.ReadPrice,
		"write":       m.WritePrice,
		"block usage": m.BlockUsagePrice,
	} {
		if price.IsNegative() {
			return ierrors.Wrapf(ErrInvalidCostModel, "negative %s price", name)
		}
	}

	return nil
}

// Fee is ceil(sum of price times dimension).
func (m CostModel) Fee(c SyntheticCost) (uint64, error) {
	total := m.ComputePrice.Mul(decimal.NewFromUint64(c.Compute)).
		Add(m.ReadPrice.Mul(decimal.NewFromUint64(c.Read))).
		Add(m.WritePrice.Mul(decimal.NewFromUint64(c.Write))).
		Add(m.BlockUsagePrice.Mul(decimal.NewFromUint64(c.BlockUsage))).
		Ceil()
	if total.IsNegative() {
		return 0, ErrInvalidCostModel
	}
	fee := total.BigInt()
	if !fee.IsUint64() {
		return 0, ierrors.Wrapf(ErrArithmeticOverflow, "fee %s", total)
	}

	return fee.Uint64(), nil
}

// Cost computes the synthetic cost of tx. It is the same for every proof and
// signature stage of the same transaction.
func Cost[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) (SyntheticCost, error) {
	body := erasedBody(tx)
	encoded, err := encode(func(w io.WriteSeeker) error { return writeTransactionBody(w, body) })
	if err != nil {
		return SyntheticCost{}, err
	}

	var proofCount, signatureCount uint64
	cost := SyntheticCost{Compute: bindingVerificationCost}

	_, offers := body.offers()
	for _, o := range offers {
		proofCount += uint64(len(o.Inputs) + len(o.Outputs) + 2*len(o.Transients))
		cost.Read += uint64(2*len(o.Inputs) + len(o.Outputs) + len(o.Transients))
		cost.Write += uint64(len(o.Inputs) + 2*len(o.Outputs) + len(o.Transients))
	}
	for _, intent := range body.Intents {
		for _, o := range []*UnshieldedOffer[proofs.SignatureErased]{intent.GuaranteedUnshielded, intent.FallibleUnshielded} {
			if o == nil {
				continue
			}
			signatureCount += uint64(len(o.Inputs))
			cost.Read += uint64(len(o.Inputs))
			cost.Write += uint64(len(o.Inputs) + len(o.Outputs))
		}
		for _, a := range intent.Actions {
			switch {
			case a.Deploy != nil:
				cost.Write += 1 + uint64(len(a.Deploy.Initial.Data))/32
			case a.Call != nil:
				cost.Read++
				cost.Write += 1 + uint64(len(a.Call.NextState))/32
			case a.Maintenance != nil:
				signatureCount += uint64(len(a.Maintenance.Signers))
				cost.Read++
				cost.Write++
			}
		}
		if intent.Dust != nil {
			proofCount += uint64(len(intent.Dust.Spends))
			signatureCount += uint64(len(intent.Dust.Registrations))
			cost.Read += uint64(2 * len(intent.Dust.Spends))
			cost.Write += uint64(2*len(intent.Dust.Spends) + len(intent.Dust.Registrations))
		}
	}

	var overflow error
	cost.Compute, overflow = safemath.SafeAdd(cost.Compute, proofCount*proofVerificationCost+signatureCount*signatureVerificationCost)
	if overflow != nil {
		return cost, ierrors.Wrap(ErrArithmeticOverflow, "compute")
	}
	// binding signature, nominal proofs and nominal signatures
	cost.BlockUsage = uint64(len(encoded)) + signatureSize + proofCount*proofs.MockProofSize + signatureCount*signatureSize

	return cost, nil
}

// Fee prices tx under model.
func Fee[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B], model CostModel) (uint64, error) {
	cost, err := Cost(tx)
	if err != nil {
		return 0, err
	}

	return model.Fee(cost)
}
