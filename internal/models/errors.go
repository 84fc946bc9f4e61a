package models

import "errors"

// Error taxonomy shared by the ledger, storage and RPC layers.
// Callers match with errors.Is; messages wrap these with the entity id and
// the offending field or bound.
var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrInvalidState    = errors.New("invalid state")
	ErrInvalidPlan     = errors.New("invalid installment plan")
	ErrPlanLocked      = errors.New("installment plan locked")
	ErrIndexOutOfRange = errors.New("index out of range")
)
