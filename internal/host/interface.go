package host

import (
	"context"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vaultpilot/vrm/internal/types"
)

// ExecutionHost dispatches an ordered instruction batch to the owner's smart
// account. The host executes the batch atomically: either every instruction
// succeeds or the whole batch reverts. The engine never retries a host
// failure; callers decide whether to re-attempt.
type ExecutionHost interface {
	ExecuteBatch(ctx context.Context, owner common.Address, batch []types.Instruction) (*types.ExecutionResult, error)
}
