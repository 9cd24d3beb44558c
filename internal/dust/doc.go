// Package dust implements the fee token generated by Night outputs.
//
// A Night output whose owner registered a Dust key gets an initial Dust output
// of value zero. Its value grows along a Curve towards NightDustRatio times the
// Night value, and decays at GenerationDecayRate per Night atom once the Night
// is spent. Spending a Dust output pays a fee and creates a change output that
// keeps regenerating from its new initial value, so the position is never
// consumed.
//
// The ledger keeps State and emits Events. Wallets replay the events into a
// LocalState to track their outputs and build Spends.
package dust
