package models

// Intent is the classified purpose of an inbound message
type Intent string

const (
	IntentOrderStatus    Intent = "ORDER_STATUS"
	IntentCancellation   Intent = "CANCELLATION"
	IntentReturnExchange Intent = "RETURN_EXCHANGE"
	IntentRefund         Intent = "REFUND"
	IntentAddressChange  Intent = "ADDRESS_CHANGE"
	IntentGeneralSupport Intent = "GENERAL_SUPPORT"
	IntentSpamNewsletter Intent = "SPAM_NEWSLETTER"
)

// IsSupport reports whether the intent is eligible for a reply
func (i Intent) IsSupport() bool {
	switch i {
	case IntentGeneralSupport, IntentOrderStatus, IntentCancellation, IntentReturnExchange:
		return true
	}
	return false
}

// IsOrderRelated reports whether the intent concerns an existing order
func (i Intent) IsOrderRelated() bool {
	switch i {
	case IntentOrderStatus, IntentCancellation, IntentReturnExchange, IntentRefund, IntentAddressChange:
		return true
	}
	return false
}

// ConfidenceSource tells where a classification came from
type ConfidenceSource string

const (
	SourceLearned ConfidenceSource = "learned"
	SourceStatic  ConfidenceSource = "static"
)
