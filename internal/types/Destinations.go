/*

This file contains the types for yield destinations (ERC-4626 vaults) tracked
by the rotation engine, and the smart accounts allowed to configure it.

*/

package types

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Destination is a registered ERC-4626 vault. A destination is bound to the
// underlying asset it reported when first registered and is never rebound;
// attempting to list it under a different asset is a hard validation failure.
type Destination struct {
	Address      common.Address `json:"address"`
	Asset        common.Address `json:"asset"`         // Underlying ERC-20 asset the vault accepts
	Enabled      bool           `json:"enabled"`       // Set on registration, cleared only by policy reconfiguration
	RegisteredAt time.Time      `json:"registered_at"`
}

// Account is a smart account that has been installed into the engine.
// Only installed accounts may configure policies or have funds moved.
type Account struct {
	Owner       common.Address `json:"owner"`
	InstalledAt time.Time      `json:"installed_at"`
}
