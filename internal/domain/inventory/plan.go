package inventory

import (
	"stockflow/internal/core/types"
)

// Plan walks candidates in the given order taking min(remaining, lot quantity)
// from each until quantity is covered. It returns the allocations and the
// quantity still uncovered; a positive remainder means the plan must not be applied.
func Plan(candidates []Batch, quantity int64) ([]Allocation, int64) {
	remaining := quantity
	allocations := make([]Allocation, 0, len(candidates))
	for _, b := range candidates {
		if remaining <= 0 {
			break
		}
		if b.Quantity <= 0 {
			continue
		}
		take := min(remaining, b.Quantity)
		allocations = append(allocations, Allocation{
			BatchID:  b.ID,
			Quantity: take,
			UnitCost: b.UnitCost,
		})
		remaining -= take
	}
	return allocations, remaining
}

// TotalCost is Σ(quantity × unit cost) over the allocations.
func TotalCost(allocations []Allocation) types.Money {
	total := types.Zero()
	for _, a := range allocations {
		total = total.Add(types.LineCost(a.Quantity, a.UnitCost))
	}
	return total
}

// AverageCost is TotalCost / quantity rounded to types.CostScale.
func AverageCost(allocations []Allocation, quantity int64) types.Money {
	return types.WeightedAverage(TotalCost(allocations), quantity)
}
