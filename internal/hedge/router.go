package hedge

import "context"

type Mode string

const (
	// ExactIn spends exactly AmountRaw of the input mint.
	ExactIn Mode = "ExactIn"
	// ExactOut receives exactly AmountRaw of the output mint.
	ExactOut Mode = "ExactOut"
)

type SwapRequest struct {
	InputMint   string
	OutputMint  string
	AmountRaw   uint64
	Mode        Mode
	SlippageBps int
}

type SwapResult struct {
	TxID         string
	InputAmount  uint64
	OutputAmount uint64
}

// Router executes a single swap attempt. A nil result with a nil error means
// no route was found or the attempt did not execute.
type Router interface {
	Swap(ctx context.Context, req SwapRequest) (*SwapResult, error)
}
