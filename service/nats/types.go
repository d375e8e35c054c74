package nats

import (
	"time"

	"github.com/google/uuid"
)

// Funding outcomes, also the last token of the event subject.
const (
	OutcomeFunded   = "funded"
	OutcomeRejected = "rejected"
	OutcomeInvalid  = "invalid"
)

// FundingEvent records one /fund_transaction decision.
// It is published to the subject "dispenser.funding.{outcome}".
type FundingEvent struct {
	RequestID uuid.UUID `json:"request_id"`
	Outcome   string    `json:"outcome"`

	// Funder identities referenced by the request, in input order
	Funders []string `json:"funders"`

	// Signatures of the funded transactions (fee payer signature), if funded
	Signatures []string `json:"signatures,omitempty"`

	Transactions     int      `json:"transactions"`
	FailedPredicates []string `json:"failed_predicates,omitempty"`
	Reason           string   `json:"reason,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// NewFundingEvent creates an event with a fresh request ID.
func NewFundingEvent(outcome string, transactions int) *FundingEvent {
	return &FundingEvent{
		RequestID:    uuid.New(),
		Outcome:      outcome,
		Transactions: transactions,
	}
}

// Subject returns the NATS subject the event is published on.
func (e *FundingEvent) Subject() string {
	return SubjectPrefix + "." + e.Outcome
}
