// prove.go - Proof-stage transitions of whole transactions.

package ledger

import (
	"context"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"ledgerengine/internal/dust"
	"ledgerengine/internal/proofs"
	"ledgerengine/internal/zswap"
)

// ProveTransaction proves every offer and Dust spend of tx concurrently. tx is
// not modified; a failure of any proof fails the whole call with proofs.ErrProving.
func ProveTransaction[S proofs.SignatureStage, B proofs.BindingStage](ctx context.Context, tx Transaction[S, proofs.Preimage, B], provider proofs.Provider) (Transaction[S, proofs.Proof, B], error) {
	out := Transaction[S, proofs.Proof, B]{
		Network:  tx.Network,
		Fallible: make(map[uint16]*zswap.Offer[proofs.Proof], len(tx.Fallible)),
		Intents:  make(map[uint16]*Intent[S, proofs.Proof], len(tx.Intents)),
		Binding:  tx.Binding,
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(zswap.DefaultProvingParallelism)

	if tx.Guaranteed != nil {
		g.Go(func() error {
			o, err := zswap.ProveOffer(gctx, *tx.Guaranteed, provider)
			if err != nil {
				return err
			}
			out.Guaranteed = &o

			return nil
		})
	}
	for _, segment := range slices.Sorted(maps.Keys(tx.Fallible)) {
		offer := tx.Fallible[segment]
		if offer == nil {
			continue
		}
		g.Go(func() error {
			o, err := zswap.ProveOffer(gctx, *offer, provider)
			if err != nil {
				return err
			}
			mu.Lock()
			out.Fallible[segment] = &o
			mu.Unlock()

			return nil
		})
	}
	for _, segment := range slices.Sorted(maps.Keys(tx.Intents)) {
		intent := tx.Intents[segment]
		g.Go(func() error {
			proved, err := mapIntent(intent,
				func(o *UnshieldedOffer[S]) (*UnshieldedOffer[S], error) { return o, nil },
				func(a ContractAction[S]) (ContractAction[S], error) { return a, nil },
				func(r DustRegistration[S]) (DustRegistration[S], error) { return r, nil },
				func(s dust.Spend[proofs.Preimage]) (dust.Spend[proofs.Proof], error) {
					return dust.ProveSpend(gctx, s, segment, provider)
				})
			if err != nil {
				return err
			}
			mu.Lock()
			out.Intents[segment] = proved
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return Transaction[S, proofs.Proof, B]{}, err
	}

	return out, nil
}

// MockProveTransaction replaces every preimage by a mock proof. The result has
// the fee of the real proven transaction but never verifies.
func MockProveTransaction[S proofs.SignatureStage, B proofs.BindingStage](tx Transaction[S, proofs.Preimage, B]) (Transaction[S, proofs.Proof, B], error) {
	return ProveTransaction(context.Background(), tx, proofs.MockProver{})
}
