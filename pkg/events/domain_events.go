package events

import "time"

// CustomerVisit is emitted when a customer checks in at a shop.
type CustomerVisit struct {
	CustomerID  string    `json:"customer_id"            validate:"required"`
	ShopID      string    `json:"shop_id"                validate:"required"`
	TreatmentID string    `json:"treatment_id,omitempty"`
	At          time.Time `json:"at"`
}

func (CustomerVisit) GetType() EventType { return CustomerVisitEvent }

func (e CustomerVisit) PartitionKey() string { return e.ShopID }

// CustomerRegistration is emitted when a new customer is created.
type CustomerRegistration struct {
	CustomerID string    `json:"customer_id" validate:"required"`
	ShopID     string    `json:"shop_id"     validate:"required"`
	At         time.Time `json:"at"`
}

func (CustomerRegistration) GetType() EventType { return CustomerRegistrationEvent }

func (e CustomerRegistration) PartitionKey() string { return e.ShopID }

// PaymentCompleted is emitted after a sale is paid. Amount is in the shop's
// minor currency unit.
type PaymentCompleted struct {
	CustomerID string    `json:"customer_id" validate:"required"`
	ShopID     string    `json:"shop_id"     validate:"required"`
	Amount     int64     `json:"amount"      validate:"gte=0"`
	At         time.Time `json:"at"`
}

func (PaymentCompleted) GetType() EventType { return PaymentCompletedEvent }

func (e PaymentCompleted) PartitionKey() string { return e.ShopID }
