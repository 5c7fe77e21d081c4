package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

func TestDefaultPipelineOrder(t *testing.T) {
	p := NewPipeline()

	order := []string{
		repository.StageRequisition,
		repository.StageCanvassing,
		repository.StageRequest,
		repository.StageOrder,
		repository.StageRFP,
		repository.StageCheckVoucher,
	}
	for i, kind := range order[:len(order)-1] {
		cfg, err := p.Stage(kind)
		require.NoError(t, err)
		assert.Equal(t, order[i+1], cfg.NextStage, kind)
	}

	last, err := p.Stage(repository.StageCheckVoucher)
	require.NoError(t, err)
	assert.Empty(t, last.NextStage)
	assert.False(t, last.ReviewPhase)
}

func TestDefaultPipelineCascadeFlags(t *testing.T) {
	p := NewPipeline()

	auto := map[string]bool{
		repository.StageRequisition:  true,
		repository.StageCanvassing:   true,
		repository.StageRequest:      false,
		repository.StageOrder:        true,
		repository.StageRFP:          false,
		repository.StageCheckVoucher: false,
	}
	for kind, want := range auto {
		cfg, err := p.Stage(kind)
		require.NoError(t, err)
		assert.Equal(t, want, cfg.AutoCascade, kind)
	}
}

func TestStageUnknownKind(t *testing.T) {
	p := NewPipeline()
	_, err := p.Stage("delivery_receipt")
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestDeriveAmountQuantityPrice(t *testing.T) {
	items := []*repository.LineItem{
		{Quantity: 3, UnitPrice: 150_00, Rate: 999_00, Hours: 40},
		{Quantity: 0.5, UnitPrice: 1_000_00},
	}
	assert.Equal(t, int64(950_00), DeriveAmount(AmountQuantityPrice, items))
}

func TestDeriveAmountRateHours(t *testing.T) {
	items := []*repository.LineItem{
		{Rate: 120_00, Hours: 8, Quantity: 99, UnitPrice: 99_00},
		{Rate: 80_00, Hours: 2.5},
	}
	assert.Equal(t, int64(1_160_00), DeriveAmount(AmountRateHours, items))
}

func TestDeriveAmountSkipsRejectedItems(t *testing.T) {
	items := []*repository.LineItem{
		{Quantity: 1, UnitPrice: 500_00},
		{Quantity: 10, UnitPrice: 500_00, Rejected: true},
	}
	assert.Equal(t, int64(500_00), DeriveAmount(AmountQuantityPrice, items))
}

func TestDeriveAmountRoundsToNearestCent(t *testing.T) {
	// 0.29 and 0.58 are not exact in float64; their products land a hair
	// under the true value and truncation would lose a cent.
	goods := []*repository.LineItem{{Quantity: 0.29, UnitPrice: 100_00}}
	assert.Equal(t, int64(29_00), DeriveAmount(AmountQuantityPrice, goods))

	services := []*repository.LineItem{{Rate: 100_00, Hours: 0.58}}
	assert.Equal(t, int64(58_00), DeriveAmount(AmountRateHours, services))
}

func TestDeriveAmountEmptyItems(t *testing.T) {
	assert.Equal(t, int64(0), DeriveAmount(AmountQuantityPrice, nil))
}
