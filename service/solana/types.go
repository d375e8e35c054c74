package solana

import (
	"github.com/gagliardetto/solana-go/rpc"
)

// ConfirmationStatus is the commitment level an endpoint reports for a signature.
// This is our domain model, independent of the RPC response format.
type ConfirmationStatus string

const (
	// StatusUnknown means the endpoint has not seen the signature (or the poll failed).
	StatusUnknown   ConfirmationStatus = ""
	StatusProcessed ConfirmationStatus = "processed"
	StatusConfirmed ConfirmationStatus = "confirmed"
	StatusFinalized ConfirmationStatus = "finalized"
	// StatusFailed means the transaction landed but its execution returned an error.
	StatusFailed ConfirmationStatus = "failed"
)

// IsConfirmed reports whether the status counts as durable inclusion.
// "processed" does not: the containing block may still be dropped.
func (s ConfirmationStatus) IsConfirmed() bool {
	return s == StatusConfirmed || s == StatusFinalized
}

func statusFromRPC(res *rpc.SignatureStatusesResult) ConfirmationStatus {
	if res == nil {
		return StatusUnknown
	}
	if res.Err != nil {
		return StatusFailed
	}
	switch res.ConfirmationStatus {
	case rpc.ConfirmationStatusProcessed:
		return StatusProcessed
	case rpc.ConfirmationStatusConfirmed:
		return StatusConfirmed
	case rpc.ConfirmationStatusFinalized:
		return StatusFinalized
	default:
		return StatusUnknown
	}
}
