// network.go - Network identifiers carried by every framed encoding.

package serialize

import (
	"strings"

	"github.com/iotaledger/hive.go/ierrors"
)

// NetworkID prevents bytes valid on one network from being replayed on another.
type NetworkID uint8

const (
	Undeployed NetworkID = iota
	DevNet
	TestNet
	MainNet
)

var networkNames = map[NetworkID]string{
	Undeployed: "undeployed",
	DevNet:     "devnet",
	TestNet:    "testnet",
	MainNet:    "mainnet",
}

func (n NetworkID) Valid() bool {
	_, ok := networkNames[n]

	return ok
}

func (n NetworkID) String() string {
	if name, ok := networkNames[n]; ok {
		return name
	}

	return "unknown"
}

// ParseNetworkID accepts the lower-case network names.
func ParseNetworkID(s string) (NetworkID, error) {
	for id, name := range networkNames {
		if strings.EqualFold(name, s) {
			return id, nil
		}
	}

	return 0, ierrors.Wrapf(ErrUnknownNetwork, "%q", s)
}
