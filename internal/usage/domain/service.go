package domain

import (
	"context"
	"errors"
	"time"
)

// EmitRequest carries one billable call from a producer. Identity fields
// (actor, billing owner, mode, request id) come from the call context.
type EmitRequest struct {
	Provider      string         `json:"provider"`
	Service       string         `json:"service"`
	SubjectUserID string         `json:"subject_user_id,omitempty"`
	Units         int64          `json:"units"`
	InputTokens   int64          `json:"input_tokens,omitempty"`
	OutputTokens  int64          `json:"output_tokens,omitempty"`
	UnitCostUSD   float64        `json:"unit_cost_usd"`
	CostUSD       float64        `json:"cost_usd"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at,omitempty"`
}

// QueryRequest filters recent events. The limit is capped server-side.
type QueryRequest struct {
	BillingOwnerID string `json:"billing_owner_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Limit          int    `json:"limit,omitempty"`
}

type Service interface {
	Emit(context.Context, EmitRequest) (*UsageEvent, error)
	Query(context.Context, QueryRequest) ([]UsageEvent, error)
}

var (
	ErrInvalidIdentity = errors.New("invalid_identity")
	ErrInvalidProvider = errors.New("invalid_provider")
	ErrInvalidService  = errors.New("invalid_service")
	ErrInvalidUnits    = errors.New("invalid_units")
	ErrInvalidCost     = errors.New("invalid_cost")
)
