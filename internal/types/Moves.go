/*

This file contains the types for executed moves: the low-level instruction
batch handed to the execution host, the host's result, and the persisted
receipt that forms the audit trail.

*/

package types

import (
	"math/big"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Instruction is a single (target, value, data) call executed by the owner's
// smart account. Field names match the executeBatch tuple components so the
// slice can be ABI-packed directly.
type Instruction struct {
	Target common.Address `json:"target"`
	Value  *big.Int       `json:"value"`
	Data   []byte         `json:"data"`
}

// ExecutionResult contains the outcome of a dispatched instruction batch.
type ExecutionResult struct {
	TxHash    string `json:"tx_hash"`
	GasUsed   uint64 `json:"gas_used"`
	BlockHash string `json:"block_hash,omitempty"`
}

// MoveReceipt is the persisted record of a completed rotation. Written only
// after the host confirms the batch; a failed dispatch leaves no receipt.
type MoveReceipt struct {
	ReceiptID       int64          `json:"receipt_id,omitempty"` // Auto-incremented by DB
	MoveID          string         `json:"move_id"`              // UUID for log correlation
	Owner           common.Address `json:"owner"`
	FromDestination common.Address `json:"from_destination"`
	ToDestination   common.Address `json:"to_destination"`
	Asset           common.Address `json:"asset"`
	Amount          sdkmath.Int    `json:"amount"`
	FromAPR         sdkmath.Int    `json:"from_apr"`
	ToAPR           sdkmath.Int    `json:"to_apr"`
	TxHash          string         `json:"tx_hash"`
	CreatedAt       time.Time      `json:"created_at"`
}

// Event is a persisted engine notification. Events are the engine's only
// observable audit trail besides move receipts.
type Event struct {
	EventID   int64       `json:"event_id,omitempty"`
	Kind      string      `json:"kind"`    // e.g. "snapshot_recorded", "destination_registered", "funds_moved"
	Subject   string      `json:"subject"` // address or (owner, asset) key the event concerns
	Payload   interface{} `json:"payload,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Event kinds emitted by the engine.
const (
	EventSnapshotRecorded      = "snapshot_recorded"
	EventDestinationRegistered = "destination_registered"
	EventPolicyUpdated         = "policy_updated"
	EventFundsMoved            = "funds_moved"
	EventPaymentExecuted       = "payment_executed"
)
