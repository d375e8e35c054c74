package nats

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFundingEvent(t *testing.T) {
	a := NewFundingEvent(OutcomeFunded, 2)
	b := NewFundingEvent(OutcomeRejected, 1)

	assert.NotEqual(t, a.RequestID, b.RequestID)
	assert.Equal(t, "dispenser.funding.funded", a.Subject())
	assert.Equal(t, "dispenser.funding.rejected", b.Subject())

	b.FailedPredicates = []string{"is_current_version"}
	data, err := json.Marshal(b)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, b.RequestID.String(), decoded["request_id"])
	assert.Equal(t, "rejected", decoded["outcome"])
	assert.NotContains(t, decoded, "signatures")
}

func TestMockPublisher(t *testing.T) {
	ctx := context.Background()
	m := NewMockPublisher()

	require.NoError(t, m.PublishFunding(ctx, NewFundingEvent(OutcomeFunded, 1)))
	require.NoError(t, m.PublishFunding(ctx, NewFundingEvent(OutcomeInvalid, 0)))
	assert.Len(t, m.GetPublishedEvents(), 2)
	assert.Len(t, m.GetPublishedEventsForOutcome(OutcomeInvalid), 1)

	m.SetPublishError(assert.AnError)
	assert.ErrorIs(t, m.PublishFunding(ctx, NewFundingEvent(OutcomeFunded, 1)), assert.AnError)
	assert.Len(t, m.GetPublishedEvents(), 2)

	require.NoError(t, m.Close())
	assert.True(t, m.IsClosed())
}

func TestNopPublisher(t *testing.T) {
	var p Publisher = NopPublisher{}
	assert.NoError(t, p.PublishFunding(context.Background(), NewFundingEvent(OutcomeFunded, 1)))
	assert.NoError(t, p.Close())
}
