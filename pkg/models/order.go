package models

// Order is the subset of a store order used to enrich replies
type Order struct {
	Name              string        `json:"name"`
	FinancialStatus   string        `json:"financial_status"`
	FulfillmentStatus string        `json:"fulfillment_status"`
	Fulfillments      []Fulfillment `json:"fulfillments"`
}

// Fulfillment is a shipment of an order
type Fulfillment struct {
	TrackingURL         string         `json:"tracking_url"`
	TrackingNumber      string         `json:"tracking_number"`
	TrackingCompany     string         `json:"tracking_company"`
	EstimatedDeliveryAt string         `json:"estimated_delivery_at"`
	TrackingInfo        []TrackingInfo `json:"tracking_info"`
}

// TrackingInfo is an alternative tracking block some stores return
type TrackingInfo struct {
	URL                 string `json:"url"`
	TrackingURL         string `json:"tracking_url"`
	Company             string `json:"company"`
	EstimatedDeliveryAt string `json:"estimated_delivery_at"`
}

// OrderStatus is the compact order summary handed to the reply generator
type OrderStatus struct {
	Name     string
	Status   string
	Tracking string
	Carrier  string
	ETA      string
}

// Summarize condenses an order into an OrderStatus, nil when nothing useful is known
func (o *Order) Summarize() *OrderStatus {
	if o == nil {
		return nil
	}

	st := &OrderStatus{Name: o.Name, Status: o.FulfillmentStatus}
	if st.Status == "" {
		st.Status = o.FinancialStatus
	}

	if len(o.Fulfillments) > 0 {
		f := o.Fulfillments[0]
		st.Tracking = f.TrackingURL
		if st.Tracking == "" {
			st.Tracking = f.TrackingNumber
		}
		if st.Tracking == "" && len(f.TrackingInfo) > 0 {
			ti := f.TrackingInfo[0]
			st.Tracking = ti.URL
			if st.Tracking == "" {
				st.Tracking = ti.TrackingURL
			}
			st.Carrier = ti.Company
			st.ETA = ti.EstimatedDeliveryAt
		}
		if st.ETA == "" {
			st.ETA = f.EstimatedDeliveryAt
		}
		if st.Carrier == "" {
			st.Carrier = f.TrackingCompany
		}
	}

	if *st == (OrderStatus{}) {
		return nil
	}
	return st
}

// ReplyRequest is everything the reply generator gets to see
type ReplyRequest struct {
	Subject     string
	Body        string
	OrderStatus *OrderStatus
	Brand       string
	Signature   string
}
