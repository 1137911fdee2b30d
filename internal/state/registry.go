// ./internal/state/registry.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/types"
)

// Registry persists destination registrations and installed accounts.
type Registry struct{}

// GetDestination returns the registered destination, or nil if unknown.
func (Registry) GetDestination(address common.Address) (*types.Destination, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT address, asset, enabled, registered_at
		FROM destinations
		WHERE address = $1;`

	var (
		addrStr  string
		assetStr string
		dest     types.Destination
	)
	row := DB.QueryRow(query, address.Hex())
	err := row.Scan(&addrStr, &assetStr, &dest.Enabled, &dest.RegisteredAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load destination %s: %w", address.Hex(), err)
	}

	dest.Address = common.HexToAddress(addrStr)
	dest.Asset = common.HexToAddress(assetStr)
	return &dest, nil
}

// RegisterDestination inserts a new destination. Registration is first-write-
// wins: an existing row is left untouched, preserving the original asset
// binding.
func (Registry) RegisterDestination(dest types.Destination) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO destinations (address, asset, enabled, registered_at)
		VALUES ($1, $2, $3, CURRENT_TIMESTAMP)
		ON CONFLICT (address) DO NOTHING;`

	_, err := DB.Exec(query, dest.Address.Hex(), dest.Asset.Hex(), dest.Enabled)
	if err != nil {
		return fmt.Errorf("failed to register destination %s: %w", dest.Address.Hex(), err)
	}

	log.Info().
		Str("destination", dest.Address.Hex()).
		Str("asset", dest.Asset.Hex()).
		Msg("Destination registered")
	return nil
}

// ListDestinations returns every registered destination.
func (Registry) ListDestinations() ([]types.Destination, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT address, asset, enabled, registered_at
		FROM destinations
		ORDER BY registered_at;`

	rows, err := DB.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list destinations: %w", err)
	}
	defer rows.Close()

	var destinations []types.Destination
	for rows.Next() {
		var (
			addrStr  string
			assetStr string
			dest     types.Destination
		)
		if err := rows.Scan(&addrStr, &assetStr, &dest.Enabled, &dest.RegisteredAt); err != nil {
			return nil, fmt.Errorf("failed to scan destination row: %w", err)
		}
		dest.Address = common.HexToAddress(addrStr)
		dest.Asset = common.HexToAddress(assetStr)
		destinations = append(destinations, dest)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating destinations: %w", err)
	}
	return destinations, nil
}

// InstallAccount records a smart account as installed. Idempotent.
func (Registry) InstallAccount(owner common.Address) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO accounts (owner, installed_at)
		VALUES ($1, CURRENT_TIMESTAMP)
		ON CONFLICT (owner) DO NOTHING;`

	_, err := DB.Exec(query, owner.Hex())
	if err != nil {
		return fmt.Errorf("failed to install account %s: %w", owner.Hex(), err)
	}

	log.Info().Str("owner", owner.Hex()).Msg("Account installed")
	return nil
}

// IsAccountInstalled reports whether the owner has been installed.
func (Registry) IsAccountInstalled(owner common.Address) (bool, error) {
	if DB == nil {
		return false, fmt.Errorf("database not initialized")
	}

	query := `SELECT EXISTS (SELECT 1 FROM accounts WHERE owner = $1);`

	var installed bool
	if err := DB.QueryRow(query, owner.Hex()).Scan(&installed); err != nil {
		return false, fmt.Errorf("failed to check account %s: %w", owner.Hex(), err)
	}
	return installed, nil
}
