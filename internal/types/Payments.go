/*

This file contains the types for the recurring payment module: an
interval-gated authorization to pull a capped, owner-approved amount. It is a
deliberately simpler sibling of the rotation engine with no aggregation or
comparative decision logic.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// PaymentSchedule authorizes repeated transfers of up to MaxAmount of Asset
// from the owner's account to Beneficiary, at most once per Interval.
type PaymentSchedule struct {
	ScheduleID   int64          `json:"schedule_id,omitempty"` // Auto-incremented by DB
	Owner        common.Address `json:"owner"`
	Beneficiary  common.Address `json:"beneficiary"`
	Asset        common.Address `json:"asset"`
	MaxAmount    sdkmath.Int    `json:"max_amount"`
	Interval     uint64         `json:"interval"`      // seconds between executions
	LastExecuted uint64         `json:"last_executed"` // Unix seconds, 0 if never executed
	CreatedAt    time.Time      `json:"created_at"`
}
