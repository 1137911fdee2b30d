// ./internal/state/receipts.go
package state

import (
	"encoding/json"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"

	"github.com/vaultpilot/vrm/internal/types"
)

// ReceiptStore persists move receipts and engine events, the system's
// observable audit trail.
type ReceiptStore struct{}

// SaveMoveReceipt saves a completed move and returns the receipt id.
func (ReceiptStore) SaveMoveReceipt(receipt types.MoveReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO move_receipts (
			move_id, owner, from_destination, to_destination, asset,
			amount, from_apr, to_apr, tx_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING receipt_id;`

	var receiptID int64
	err := DB.QueryRow(
		query,
		receipt.MoveID, receipt.Owner.Hex(), receipt.FromDestination.Hex(),
		receipt.ToDestination.Hex(), receipt.Asset.Hex(),
		receipt.Amount.String(), receipt.FromAPR.String(), receipt.ToAPR.String(),
		receipt.TxHash,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save move receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("move_id", receipt.MoveID).
		Str("tx_hash", receipt.TxHash).
		Msg("Move receipt saved to database")
	return receiptID, nil
}

// GetRecentMoveReceipts returns the most recent move receipts, newest first.
func GetRecentMoveReceipts(limit int) ([]types.MoveReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT receipt_id, move_id, owner, from_destination, to_destination,
		       asset, amount, from_apr, to_apr, tx_hash, created_at
		FROM move_receipts
		ORDER BY created_at DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load move receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.MoveReceipt
	for rows.Next() {
		var (
			ownerStr, fromStr, toStr, assetStr string
			amountStr, fromAPRStr, toAPRStr    string
			receipt                            types.MoveReceipt
		)
		err := rows.Scan(
			&receipt.ReceiptID, &receipt.MoveID, &ownerStr, &fromStr, &toStr,
			&assetStr, &amountStr, &fromAPRStr, &toAPRStr, &receipt.TxHash, &receipt.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan move receipt row: %w", err)
		}

		receipt.Owner = common.HexToAddress(ownerStr)
		receipt.FromDestination = common.HexToAddress(fromStr)
		receipt.ToDestination = common.HexToAddress(toStr)
		receipt.Asset = common.HexToAddress(assetStr)
		if receipt.Amount, err = parseNumeric(amountStr, "amount"); err != nil {
			return nil, err
		}
		if receipt.FromAPR, err = parseNumeric(fromAPRStr, "from_apr"); err != nil {
			return nil, err
		}
		if receipt.ToAPR, err = parseNumeric(toAPRStr, "to_apr"); err != nil {
			return nil, err
		}
		receipts = append(receipts, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating move receipts: %w", err)
	}
	return receipts, nil
}

// RecordEvent persists an engine notification.
func (ReceiptStore) RecordEvent(event types.Event) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	var payloadJSON []byte
	if event.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(event.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
	}

	query := `
		INSERT INTO events (kind, subject, payload)
		VALUES ($1, $2, $3);`

	if _, err := DB.Exec(query, event.Kind, event.Subject, payloadJSON); err != nil {
		return fmt.Errorf("failed to record %s event: %w", event.Kind, err)
	}
	return nil
}

// GetRecentEvents returns the most recent events, newest first.
func GetRecentEvents(limit int) ([]types.Event, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT event_id, kind, subject, COALESCE(payload, 'null'::jsonb), created_at
		FROM events
		ORDER BY created_at DESC
		LIMIT $1;`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load events: %w", err)
	}
	defer rows.Close()

	var events []types.Event
	for rows.Next() {
		var (
			event      types.Event
			payloadRaw []byte
		)
		if err := rows.Scan(&event.EventID, &event.Kind, &event.Subject, &payloadRaw, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var payload interface{}
		if err := json.Unmarshal(payloadRaw, &payload); err == nil {
			event.Payload = payload
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating events: %w", err)
	}
	return events, nil
}

func parseNumeric(raw, column string) (sdkmath.Int, error) {
	value, ok := sdkmath.NewIntFromString(raw)
	if !ok {
		return sdkmath.ZeroInt(), fmt.Errorf("corrupt %s value %q", column, raw)
	}
	return value, nil
}
