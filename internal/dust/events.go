package dust

import (
	"fmt"
	"time"

	"ledgerengine/internal/crypto"
)

// EventKind identifies a Dust state change wallets need to replay.
type EventKind uint8

const (
	// EventInitialUtxo is emitted when a Night output starts generating.
	EventInitialUtxo EventKind = iota + 1
	// EventGenerationDtimeUpdate is emitted when a generating Night output is spent.
	EventGenerationDtimeUpdate
	// EventSpendProcessed is emitted when a Dust spend is applied.
	EventSpendProcessed
)

func (k EventKind) String() string {
	switch k {
	case EventInitialUtxo:
		return "InitialUtxo"
	case EventGenerationDtimeUpdate:
		return "GenerationDtimeUpdate"
	case EventSpendProcessed:
		return "SpendProcessed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is a Dust state change. Which fields are set depends on Kind.
type Event struct {
	Kind EventKind

	// InitialUtxo
	Output QualifiedOutput

	// InitialUtxo and GenerationDtimeUpdate
	Generation      GenerationInfo
	GenerationIndex uint64
	BackingNight    crypto.UtxoID

	// SpendProcessed
	Commitment Commitment
	MtIndex    uint64
	Nullifier  Nullifier
	Fee        uint64

	Time time.Time
}

func (e Event) String() string {
	switch e.Kind {
	case EventInitialUtxo:
		return fmt.Sprintf("DustEvent{%s, index: %d, night: %s}", e.Kind, e.Output.MtIndex, e.BackingNight)
	case EventGenerationDtimeUpdate:
		return fmt.Sprintf("DustEvent{%s, generation: %d, night: %s}", e.Kind, e.GenerationIndex, e.BackingNight)
	default:
		return fmt.Sprintf("DustEvent{%s, index: %d, nullifier: %s}", e.Kind, e.MtIndex, e.Nullifier)
	}
}
