// wellformed.go - Stateless and reference-state checks run before a transaction is applied.

package ledger

import (
	"context"
	"maps"
	"math/big"
	"slices"

	"github.com/iotaledger/hive.go/core/safemath"
	"github.com/iotaledger/hive.go/ierrors"

	"ledgerengine/internal/crypto"
	"ledgerengine/internal/dust"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/zswap"
)

// Strictness selects the checks WellFormed runs.
type Strictness struct {
	VerifyProofs     bool
	VerifySignatures bool
	EnforceBalancing bool
}

// DefaultStrictness runs every check.
func DefaultStrictness() Strictness {
	return Strictness{VerifyProofs: true, VerifySignatures: true, EnforceBalancing: true}
}

// WellFormed checks tx against ref without applying it. Proofs are only
// checked for the Proof stage.
func WellFormed[P proofs.Stage](ctx context.Context, tx Transaction[crypto.Signature, P, proofs.Bound], ref State, verifier proofs.Verifier, strictness Strictness) error {
	if tx.Network != ref.Network {
		return ierrors.Wrapf(ErrNetworkMismatch, "expected %s, got %s", ref.Network, tx.Network)
	}
	if err := checkSegments(tx.Fallible, tx.Intents); err != nil {
		return err
	}
	ids, err := tx.Identifiers()
	if err != nil {
		return err
	}
	if err := checkUniqueIdentifiers(ids); err != nil {
		return err
	}
	if err := VerifyBinding(tx); err != nil {
		return err
	}
	if err := checkTTLs(tx, ref); err != nil {
		return err
	}

	if proven, ok := any(tx).(Transaction[crypto.Signature, proofs.Proof, proofs.Bound]); ok && strictness.VerifyProofs {
		if err := verifyProofs(ctx, proven, verifier); err != nil {
			return err
		}
	}
	if strictness.VerifySignatures {
		for _, segment := range slices.Sorted(maps.Keys(tx.Intents)) {
			if err := verifyIntentSignatures(tx.Intents[segment], segment, ref); err != nil {
				return ierrors.Wrapf(err, "segment %d", segment)
			}
		}
	}
	if strictness.EnforceBalancing {
		if err := checkBalance(tx); err != nil {
			return err
		}
		if err := checkFees(tx, ref.Params.Cost); err != nil {
			return err
		}
	}

	return nil
}

func checkTTLs[P proofs.Stage](tx Transaction[crypto.Signature, P, proofs.Bound], ref State) error {
	latest := ref.BlockTime.Add(ref.Params.MaxTTL)
	for segment, intent := range tx.Intents {
		if intent.TTL.Before(ref.BlockTime) {
			return ierrors.Wrapf(ErrIntentExpired, "segment %d", segment)
		}
		if intent.TTL.After(latest) {
			return ierrors.Wrapf(ErrTTLTooFar, "segment %d", segment)
		}
	}

	return nil
}

func verifyProofs(ctx context.Context, tx Transaction[crypto.Signature, proofs.Proof, proofs.Bound], verifier proofs.Verifier) error {
	segments, offers := tx.offers()
	for i, o := range offers {
		if err := zswap.VerifyOffer(ctx, o, segments[i], verifier); err != nil {
			return ierrors.Wrapf(err, "offer of segment %d", segments[i])
		}
	}
	for segment, intent := range tx.Intents {
		if intent.Dust == nil {
			continue
		}
		for _, s := range intent.Dust.Spends {
			if err := dust.VerifySpend(ctx, s, segment, verifier); err != nil {
				return ierrors.Wrapf(err, "dust spend of segment %d", segment)
			}
		}
	}

	return nil
}

func verifyIntentSignatures[P proofs.Stage](intent *Intent[crypto.Signature, P], segment uint16, ref State) error {
	if err := verifySignatures(intent, segment); err != nil {
		return err
	}
	for _, a := range intent.Actions {
		if a.Maintenance == nil {
			continue
		}
		contract, ok := ref.Contracts.Get(a.Maintenance.Address)
		if !ok {
			return ierrors.Wrapf(ErrUnknownContract, "%s", a.Maintenance.Address)
		}
		if err := verifyMaintenance(*a.Maintenance, contract.Authority); err != nil {
			return err
		}
	}

	return nil
}

type balance map[crypto.TokenType]*big.Int

func (b balance) add(deltas map[crypto.TokenType]*big.Int) {
	for t, v := range deltas {
		if cur, ok := b[t]; ok {
			cur.Add(cur, v)
		} else {
			b[t] = new(big.Int).Set(v)
		}
	}
}

func (b balance) check(segment uint16) error {
	for t, v := range b {
		if v.Sign() < 0 {
			return ierrors.Wrapf(ErrUnbalanced, "segment %d, token %s", segment, t)
		}
	}

	return nil
}

// checkBalance requires every segment to take in at least what it pays out.
// Contract mints count as inputs of their segment.
func checkBalance[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B]) error {
	guaranteed := balance{}
	if tx.Guaranteed != nil {
		guaranteed.add(tx.Guaranteed.Deltas)
	}
	for _, intent := range tx.Intents {
		guaranteed.add(intent.GuaranteedUnshielded.Deltas())
	}
	if err := guaranteed.check(GuaranteedSegment); err != nil {
		return err
	}

	for _, segment := range tx.Segments() {
		b := balance{}
		if o := tx.Fallible[segment]; o != nil {
			b.add(o.Deltas)
		}
		if intent := tx.Intents[segment]; intent != nil {
			b.add(intent.FallibleUnshielded.Deltas())
			for _, a := range intent.Actions {
				if a.Call == nil {
					continue
				}
				for domainSep, amount := range a.Call.Effects.Mints {
					b.add(map[crypto.TokenType]*big.Int{MintedType(a.Call.Address, domainSep): new(big.Int).SetUint64(amount)})
				}
			}
		}
		if err := b.check(segment); err != nil {
			return err
		}
	}

	return nil
}

func checkFees[S proofs.SignatureStage, P proofs.Stage, B proofs.BindingStage](tx Transaction[S, P, B], model CostModel) error {
	fee, err := Fee(tx, model)
	if err != nil {
		return err
	}
	var paid uint64
	for _, intent := range tx.Intents {
		fees, err := intent.DustFees()
		if err != nil {
			return err
		}
		if paid, err = safemath.SafeAdd(paid, fees); err != nil {
			return ierrors.Wrap(ErrArithmeticOverflow, "dust fees")
		}
	}
	if paid < fee {
		return ierrors.Wrapf(ErrInsufficientFee, "paid %d, fee %d", paid, fee)
	}

	return nil
}
