package errors

import "fmt"

var (
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrParticipantMissing = fmt.Errorf("participant not found")
	ErrDuplicateMessage   = fmt.Errorf("message already processed")
	ErrClaimLost          = fmt.Errorf("counterparty claim lost")
	ErrNotPaired          = fmt.Errorf("participant is not paired")
	ErrEmptySessionID     = fmt.Errorf("empty session id")
)
