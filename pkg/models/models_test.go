package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataValueIsDeterministic(t *testing.T) {
	meta := NewMetadata().
		String(MetaThreadID, "t-1").
		Bool(MetaQuietHours, true).
		Int(MetaDurationMS, 42).
		String(MetaClassification, "ORDER_STATUS")

	v1, err := meta.Value()
	require.NoError(t, err)
	v2, err := meta.Value()
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, `{"classification":"ORDER_STATUS","duration_ms":42,"quiet_hours":true,"thread_id":"t-1"}`, v1)
}

func TestMetadataRejectsNonPrimitive(t *testing.T) {
	meta := NewMetadata()
	meta[MetaLabels] = []string{"a", "b"}

	_, err := meta.Value()
	assert.Error(t, err)
}

func TestMetadataScanRestoresIntegers(t *testing.T) {
	var meta Metadata
	require.NoError(t, meta.Scan(`{"duration_ms":17,"quiet_hours":false,"error":"boom"}`))

	assert.Equal(t, int64(17), meta[MetaDurationMS])
	assert.Equal(t, false, meta[MetaQuietHours])
	assert.Equal(t, "boom", meta[MetaError])

	stored, err := NewMetadata().Float(MetaKey("score"), 2.0).Value()
	require.NoError(t, err)
	var floats Metadata
	require.NoError(t, floats.Scan(stored))
	assert.Equal(t, 2.0, floats[MetaKey("score")])

	var empty Metadata
	require.NoError(t, empty.Scan(nil))
	assert.Empty(t, empty)
}

func TestMetadataSkipsEmptyStrings(t *testing.T) {
	meta := NewMetadata().String(MetaOrderNo, "")
	_, ok := meta.Get(MetaOrderNo)
	assert.False(t, ok)
}

func TestInboundMessageKey(t *testing.T) {
	msg := &InboundMessage{ID: "gm-1", Headers: map[string]string{"message-id": "<abc@mail>"}}
	assert.Equal(t, "<abc@mail>", msg.Key())

	msg = &InboundMessage{ID: "gm-2"}
	assert.Equal(t, "gm-2", msg.Key())
}

func TestThreadHelpers(t *testing.T) {
	thread := &Thread{
		ID: "t",
		Messages: []ThreadMessage{
			{ID: "1", From: "Customer <c@example.com>", Labels: []string{"INBOX"}},
			{ID: "2", From: "Shop Support <Support@Shop.example>", Labels: []string{"Label_7"}},
		},
	}

	assert.True(t, thread.HasLabel("Label_7"))
	assert.False(t, thread.HasLabel("Label_8"))
	assert.True(t, thread.HasOutgoingFrom("support@shop.example"))
	assert.False(t, thread.HasOutgoingFrom("sales@shop.example"))
	assert.False(t, (*Thread)(nil).HasLabel("x"))
}

func TestSenderDomain(t *testing.T) {
	assert.Equal(t, "news.example", SenderDomain("bot@News.Example"))
	assert.Equal(t, "", SenderDomain("no-at-sign"))
	assert.Equal(t, "", SenderDomain("trailing@"))
}

func TestIntentGroups(t *testing.T) {
	assert.True(t, IntentGeneralSupport.IsSupport())
	assert.True(t, IntentCancellation.IsSupport())
	assert.False(t, IntentRefund.IsSupport())
	assert.False(t, IntentSpamNewsletter.IsSupport())
	assert.True(t, IntentRefund.IsOrderRelated())
	assert.False(t, IntentGeneralSupport.IsOrderRelated())
}

func TestOrderSummarize(t *testing.T) {
	assert.Nil(t, (*Order)(nil).Summarize())
	assert.Nil(t, (&Order{}).Summarize())

	order := &Order{
		Name:            "#1234",
		FinancialStatus: "paid",
		Fulfillments: []Fulfillment{{
			TrackingCompany: "UPS",
			TrackingInfo: []TrackingInfo{{
				URL:                 "https://track.example/1Z",
				EstimatedDeliveryAt: "2026-10-22",
			}},
		}},
	}

	st := order.Summarize()
	require.NotNil(t, st)
	assert.Equal(t, "#1234", st.Name)
	assert.Equal(t, "paid", st.Status)
	assert.Equal(t, "https://track.example/1Z", st.Tracking)
	assert.Equal(t, "UPS", st.Carrier)
	assert.Equal(t, "2026-10-22", st.ETA)
}

func TestReplySubject(t *testing.T) {
	assert.Equal(t, "Re: Where is my order?", ReplySubject("Where is my order?"))
	assert.Equal(t, "RE: hello", ReplySubject("RE: hello"))
	assert.Equal(t, "Re: (no subject)", ReplySubject("  "))
}
