package service

import (
	"context"

	"tola_ledger/internal/domain"
)

// Event types pushed to Publisher.
const (
	EventDistribution      = "distribution"
	EventConversion        = "conversion"
	EventConversionEnabled = "conversion_enabled"
)

// MilestoneNotifier is told once, when conversion gets enabled.
type MilestoneNotifier interface {
	OnConversionEnabled(ctx context.Context, state domain.MilestoneState) error
}

// ConversionAlerter is told about conversions that ended in a reversal.
type ConversionAlerter interface {
	OnConversionFailed(ctx context.Context, req domain.ConversionRequest) error
}

// Publisher pushes live events to connected clients. userID 0 broadcasts.
type Publisher interface {
	Publish(userID int64, eventType string, payload any)
}

type nopPublisher struct{}

func (nopPublisher) Publish(int64, string, any) {}
