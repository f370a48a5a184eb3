package domain

import "errors"

// Validation errors. Rejected before any state is touched.
var (
	ErrInvalidAmount      = errors.New("ledger: invalid amount")
	ErrInvalidUser        = errors.New("ledger: invalid user id")
	ErrInvalidDestination = errors.New("conversion: invalid destination address")
	ErrBelowMinimum       = errors.New("conversion: amount below minimum")
	ErrAboveMaximum       = errors.New("conversion: amount above maximum")
	ErrUnknownEventType   = errors.New("incentive: unknown event type")
	ErrInvalidPeriod      = errors.New("report: invalid period")
)

// State errors.
var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrInsufficientCredit  = errors.New("conversion: insufficient credit")
	ErrConversionDisabled  = errors.New("conversion: conversion disabled")
	ErrDailyLimitReached   = errors.New("ratelimit: daily limit reached")
	ErrWalletInactive      = errors.New("ledger: wallet inactive")
	ErrNotFound            = errors.New("not found")
	ErrSettlementFailed    = errors.New("conversion: settlement failed")
)

// Idempotency outcomes. Callers treat these as benign no-ops.
var (
	ErrDuplicateCorrelation = errors.New("ledger: duplicate correlation id")
	ErrAlreadyClaimed       = errors.New("incentive: already claimed")
)

// IsBenign reports whether err is an idempotency outcome rather than a failure.
func IsBenign(err error) bool {
	return errors.Is(err, ErrDuplicateCorrelation) || errors.Is(err, ErrAlreadyClaimed)
}
