package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFitsCostScale(t *testing.T) {
	assert.True(t, FitsCostScale(MustMoney("1.2345")))
	assert.True(t, FitsCostScale(MustMoney("1.50000")))
	assert.True(t, FitsCostScale(MustMoney("7")))
	assert.False(t, FitsCostScale(MustMoney("1.23456")))
}

func TestWeightedAverage(t *testing.T) {
	assert.Equal(t, "3.3333", WeightedAverage(MustMoney("10"), 3).StringFixed(CostScale))
	assert.Equal(t, "1.6667", WeightedAverage(MustMoney("5"), 3).StringFixed(CostScale))
	assert.True(t, WeightedAverage(MustMoney("10"), 0).IsZero())
}
