// Package event fabricates synthetic e-commerce domain events.
package event

import "time"

// Kind identifies one of the domain event variants.
type Kind string

const (
	KindOrder       Kind = "order"
	KindPayment     Kind = "payment"
	KindInventory   Kind = "inventory"
	KindUserSession Kind = "user_session"
)

// Kinds lists every variant in sampling order.
var Kinds = []Kind{KindOrder, KindPayment, KindInventory, KindUserSession}

// Unit is the unit attached to a measurement.
type Unit string

const (
	UnitCount        Unit = "Count"
	UnitPercent      Unit = "Percent"
	UnitMilliseconds Unit = "Milliseconds"
	UnitSeconds      Unit = "Seconds"
	UnitNone         Unit = "None"
)

// Measurement is a named numeric value with a unit.
type Measurement struct {
	Name  string
	Value float64
	Unit  Unit
}

// Order is the payload of an order event.
type Order struct {
	OrderID  string  `json:"orderId"`
	Items    int     `json:"items"`
	Total    float64 `json:"total"`
	Currency string  `json:"currency"`
}

// Payment is the payload of a payment event.
type Payment struct {
	PaymentID      string `json:"paymentId"`
	Method         string `json:"method"`
	Status         string `json:"status"`
	ProcessingTime int    `json:"processingTime"`
}

// Inventory is the payload of an inventory event.
type Inventory struct {
	ProductID    string `json:"productId"`
	Quantity     int    `json:"quantity"`
	Warehouse    string `json:"warehouse"`
	ReorderPoint int    `json:"reorderPoint"`
}

// UserSession is the payload of a user session event.
type UserSession struct {
	UserID     string `json:"userId"`
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	Location   string `json:"location"`
}

// DomainEvent is one generated event. Exactly one of the payload pointers is set,
// matching Kind.
type DomainEvent struct {
	Kind      Kind
	Timestamp time.Time

	Order       *Order
	Payment     *Payment
	Inventory   *Inventory
	UserSession *UserSession

	Dimensions   map[string]string
	Measurements []Measurement
}

// PropertyName is the key the payload is attached under when handed to a sink.
func (e DomainEvent) PropertyName() string {
	switch e.Kind {
	case KindOrder:
		return "orderData"
	case KindPayment:
		return "paymentData"
	case KindInventory:
		return "inventoryData"
	case KindUserSession:
		return "sessionData"
	}
	return ""
}

// Payload returns the variant payload.
func (e DomainEvent) Payload() any {
	switch e.Kind {
	case KindOrder:
		return e.Order
	case KindPayment:
		return e.Payment
	case KindInventory:
		return e.Inventory
	case KindUserSession:
		return e.UserSession
	}
	return nil
}

// Measurement returns the named measurement, if present.
func (e DomainEvent) Measurement(name string) (Measurement, bool) {
	for _, m := range e.Measurements {
		if m.Name == name {
			return m, true
		}
	}
	return Measurement{}, false
}
