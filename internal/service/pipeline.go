package service

import (
	"fmt"
	"math"

	"github.com/lumen-erp/be-procurement/internal/errors"
	"github.com/lumen-erp/be-procurement/internal/repository"
)

// AmountRule selects how a stage derives its monetary total from line items.
type AmountRule string

const (
	// AmountQuantityPrice sums quantity x unit price (goods-type stages).
	AmountQuantityPrice AmountRule = "quantity_price"
	// AmountRateHours sums rate x hours (service-type stages).
	AmountRateHours AmountRule = "rate_hours"
)

// StageConfig describes one pipeline stage kind: which tier code assigns
// its chains, whether it has a review phase at all, whether full approval
// automatically spawns the next stage, and how its total is derived.
//
// "No review phase" is a stage property, never an empty review chain; a
// chain with all seats unfilled means "everyone was skipped", which is a
// different thing from the phase not existing.
type StageConfig struct {
	Kind        string
	TierCode    string
	ReviewPhase bool
	AutoCascade bool
	NextStage   string // empty = no successor stage
	AmountRule  AmountRule
}

// Pipeline is the per-stage-kind configuration table.
type Pipeline struct {
	stages map[string]StageConfig
}

// NewPipeline returns the default procurement pipeline:
// requisition → canvassing → request → order → rfp → check_voucher.
// Requisition, canvassing and order cascade automatically; request and rfp
// leave successor creation to an explicit call; check vouchers are terminal
// and go straight to approvers.
func NewPipeline() *Pipeline {
	return NewPipelineWith([]StageConfig{
		{Kind: repository.StageRequisition, TierCode: "REQ", ReviewPhase: true, AutoCascade: true, NextStage: repository.StageCanvassing, AmountRule: AmountQuantityPrice},
		{Kind: repository.StageCanvassing, TierCode: "CVS", ReviewPhase: true, AutoCascade: true, NextStage: repository.StageRequest, AmountRule: AmountQuantityPrice},
		{Kind: repository.StageRequest, TierCode: "RQS", ReviewPhase: true, AutoCascade: false, NextStage: repository.StageOrder, AmountRule: AmountRateHours},
		{Kind: repository.StageOrder, TierCode: "ORD", ReviewPhase: true, AutoCascade: true, NextStage: repository.StageRFP, AmountRule: AmountQuantityPrice},
		{Kind: repository.StageRFP, TierCode: "RFP", ReviewPhase: true, AutoCascade: false, NextStage: repository.StageCheckVoucher, AmountRule: AmountRateHours},
		{Kind: repository.StageCheckVoucher, TierCode: "CKV", ReviewPhase: false, AutoCascade: false, NextStage: "", AmountRule: AmountQuantityPrice},
	})
}

// NewPipelineWith builds a pipeline from explicit stage configs.
func NewPipelineWith(configs []StageConfig) *Pipeline {
	stages := make(map[string]StageConfig, len(configs))
	for _, cfg := range configs {
		stages[cfg.Kind] = cfg
	}
	return &Pipeline{stages: stages}
}

// Stage looks up the config for a stage kind.
func (p *Pipeline) Stage(kind string) (StageConfig, error) {
	cfg, ok := p.stages[kind]
	if !ok {
		return StageConfig{}, errors.InvalidInput("stage_kind", fmt.Sprintf("unknown stage kind %q", kind))
	}
	return cfg, nil
}

// DeriveAmount computes a stage's monetary total from its line items.
// Rejected items never contribute. Per-line products are rounded to the
// nearest cent; fractional quantities like 0.29 are not exactly
// representable in float64 and bare truncation would drop a cent.
func DeriveAmount(rule AmountRule, items []*repository.LineItem) int64 {
	var total int64
	for _, item := range items {
		if item.Rejected {
			continue
		}
		switch rule {
		case AmountRateHours:
			total += int64(math.Round(float64(item.Rate) * item.Hours))
		default:
			total += int64(math.Round(float64(item.UnitPrice) * item.Quantity))
		}
	}
	return total
}
