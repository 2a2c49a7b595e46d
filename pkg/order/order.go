// Package order holds the domain types decoded from ShipStation order
// JSON and the rules applied to them before rating.
package order

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lentics/shipstation-automation/internal/config"
	"github.com/lentics/shipstation-automation/pkg/rates"
)

// deliverByLayout is the format of the deliver-by custom field.
const deliverByLayout = "01/02/2006 15:04:05"

// Weight is a ShipStation weight value.
type Weight struct {
	Value       float64 `json:"value"`
	Units       string  `json:"units"`
	WeightUnits int     `json:"WeightUnits,omitempty"`
}

// Item is a single order line.
type Item struct {
	OrderItemID       int64   `json:"orderItemId"`
	LineItemKey       string  `json:"lineItemKey"`
	SKU               string  `json:"sku"`
	Name              string  `json:"name"`
	ImageURL          string  `json:"imageUrl"`
	Quantity          int     `json:"quantity"`
	UnitPrice         float64 `json:"unitPrice"`
	TaxAmount         float64 `json:"taxAmount"`
	WarehouseLocation string  `json:"warehouseLocation"`
	ProductID         int64   `json:"productId"`
	UPC               string  `json:"upc"`
	Adjustment        bool    `json:"adjustment"`
}

// Address is a ShipStation bill-to or ship-to address.
type Address struct {
	Name        string `json:"name"`
	Company     string `json:"company"`
	Street1     string `json:"street1"`
	Street2     string `json:"street2"`
	Street3     string `json:"street3"`
	City        string `json:"city"`
	State       string `json:"state"`
	PostalCode  string `json:"postalCode"`
	Country     string `json:"country"`
	Phone       string `json:"phone"`
	Residential bool   `json:"residential"`
}

// Customer is the buyer on an order.
type Customer struct {
	ID            int64
	Username      string
	Email         string
	Notes         string
	InternalNotes string
	BillTo        Address
	ShipTo        Address
}

// Shipment is the physical side of an order.
type Shipment struct {
	Length   float64
	Width    float64
	Height   float64
	DimUnits string
	Weight   Weight
	Items    []Item
	// From is the warehouse address resolved from the warehouse id
	From *config.Address
	// FromWarehouse names the warehouse group, e.g. stallion
	FromWarehouse  string
	ShippingAmount float64
	// SmartPostDate carries the FedEx SmartPost estimate for a custom field
	SmartPostDate string
}

// Service is a priced ShipStation service for one carrier.
type Service struct {
	Name string
	Cost float64
}

// Order is one ShipStation order being processed.
type Order struct {
	// Raw keeps the order JSON as fetched, the update payload is built
	// from it so unknown fields round-trip
	Raw json.RawMessage

	ID           int64
	Key          string
	Number       string
	Status       string
	OrderDate    string
	Total        float64
	AmountPaid   float64
	TaxAmount    float64
	Confirmation string
	Gift         bool
	GiftMessage  string
	PackageCode  string

	// Account is the ShipStation account the order came from
	Account     string
	StoreID     int
	WarehouseID int
	Source      string

	DeliverBy time.Time
	ShipDate  string

	IsMulti  bool
	IsDouble bool

	Customer Customer
	Shipment Shipment

	// Rates holds the ShipStation services per carrier code
	Rates map[string][]Service
	// ServiceCodes maps a service name to its ShipStation service code
	ServiceCodes map[string]string
	Winning      *rates.Rate
}

// rawOrder mirrors the fields of the ShipStation order payload the
// decoder needs. Everything else stays in Raw.
type rawOrder struct {
	OrderID          int64   `json:"orderId"`
	OrderKey         string  `json:"orderKey"`
	OrderNumber      string  `json:"orderNumber"`
	OrderStatus      string  `json:"orderStatus"`
	OrderDate        string  `json:"orderDate"`
	OrderTotal       float64 `json:"orderTotal"`
	AmountPaid       float64 `json:"amountPaid"`
	TaxAmount        float64 `json:"taxAmount"`
	Confirmation     string  `json:"confirmation"`
	Gift             bool    `json:"gift"`
	GiftMessage      string  `json:"giftMessage"`
	CustomerID       int64   `json:"customerId"`
	CustomerUsername string  `json:"customerUsername"`
	CustomerEmail    string  `json:"customerEmail"`
	CustomerNotes    string  `json:"customerNotes"`
	InternalNotes    string  `json:"internalNotes"`
	BillTo           Address `json:"billTo"`
	ShipTo           Address `json:"shipTo"`
	Items            []Item  `json:"items"`
	ShippingAmount   float64 `json:"shippingAmount"`
	Weight           *Weight `json:"weight"`
	Dimensions       *struct {
		Length float64 `json:"length"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
		Units  string  `json:"units"`
	} `json:"dimensions"`
	AdvancedOptions struct {
		StoreID      int    `json:"storeId"`
		WarehouseID  int    `json:"warehouseId"`
		Source       string `json:"source"`
		CustomField1 string `json:"customField1"`
	} `json:"advancedOptions"`
}

// ErrSkip marks an order excluded by the decode rules.
var ErrSkip = fmt.Errorf("order excluded")

// Decode turns one order payload into an Order. It returns ErrSkip for
// orders the batch must not touch: manually created stores, excluded
// warehouses, zero totals and Puerto Rico destinations.
func Decode(raw []byte, account string, cfg *config.Config) (*Order, error) {

	var ro rawOrder
	err := json.Unmarshal(raw, &ro)
	if err != nil {
		return nil, fmt.Errorf("failed to decode order: %v", err)
	}

	if cfg.SkipStore(ro.AdvancedOptions.StoreID) {
		return nil, fmt.Errorf("%w: store %v", ErrSkip, ro.AdvancedOptions.StoreID)
	}
	if cfg.SkipWarehouse(ro.AdvancedOptions.WarehouseID) {
		return nil, fmt.Errorf("%w: warehouse %v", ErrSkip, ro.AdvancedOptions.WarehouseID)
	}
	if ro.OrderTotal == 0 {
		return nil, fmt.Errorf("%w: zero order total", ErrSkip)
	}
	if strings.EqualFold(ro.ShipTo.State, "PR") {
		return nil, fmt.Errorf("%w: ships to Puerto Rico", ErrSkip)
	}

	o := &Order{
		Raw:          append(json.RawMessage(nil), raw...),
		ID:           ro.OrderID,
		Key:          ro.OrderKey,
		Number:       ro.OrderNumber,
		Status:       ro.OrderStatus,
		OrderDate:    ro.OrderDate,
		Total:        ro.OrderTotal,
		AmountPaid:   ro.AmountPaid,
		TaxAmount:    ro.TaxAmount,
		Confirmation: ro.Confirmation,
		Gift:         ro.Gift,
		GiftMessage:  ro.GiftMessage,
		PackageCode:  "package",
		Account:      account,
		StoreID:      ro.AdvancedOptions.StoreID,
		WarehouseID:  ro.AdvancedOptions.WarehouseID,
		Source:       ro.AdvancedOptions.Source,
		ShipDate:     ShipDate(time.Now()),
		Rates:        make(map[string][]Service),
		ServiceCodes: make(map[string]string),
		Customer: Customer{
			ID:            ro.CustomerID,
			Username:      ro.CustomerUsername,
			Email:         ro.CustomerEmail,
			Notes:         ro.CustomerNotes,
			InternalNotes: ro.InternalNotes,
			BillTo:        ro.BillTo,
			ShipTo:        ro.ShipTo,
		},
	}

	// adjustment lines are discounts, not products
	for _, it := range ro.Items {
		if !it.Adjustment {
			o.Shipment.Items = append(o.Shipment.Items, it)
		}
	}
	if len(o.Shipment.Items) == 0 {
		return nil, fmt.Errorf("%w: no shippable items", ErrSkip)
	}

	if ro.Dimensions != nil {
		o.Shipment.Length = ro.Dimensions.Length
		o.Shipment.Width = ro.Dimensions.Width
		o.Shipment.Height = ro.Dimensions.Height
		o.Shipment.DimUnits = ro.Dimensions.Units
	}
	if ro.Weight != nil {
		o.Shipment.Weight = *ro.Weight
	}
	o.Shipment.ShippingAmount = ro.ShippingAmount

	name, addr, err := cfg.WarehouseFor(o.WarehouseID)
	if err != nil {
		return nil, err
	}
	o.Shipment.FromWarehouse = name
	o.Shipment.From = addr

	o.DeliverBy = parseDeliverBy(ro.AdvancedOptions.CustomField1)

	if len(o.Shipment.Items) > 1 {
		o.IsMulti = true
	}
	if o.Shipment.Items[0].Quantity > 1 {
		o.IsDouble = true
	}

	return o, nil
}

// parseDeliverBy reads the deliver-by custom field, defaulting to five
// days out when the field is empty or malformed.
func parseDeliverBy(field string) time.Time {
	if field != "" {
		t, err := time.Parse(deliverByLayout, field)
		if err == nil {
			return t
		}
	}
	return time.Now().AddDate(0, 0, 5)
}

// Item returns the first shippable line. Only meaningful for single and
// double orders.
func (o *Order) Item() *Item {
	if len(o.Shipment.Items) == 0 {
		return nil
	}
	return &o.Shipment.Items[0]
}

// IsPOBox reports whether the order delivers to a PO Box, which only
// USPS will accept.
func (o *Order) IsPOBox() bool {
	return strings.Contains(strings.ToUpper(o.Customer.ShipTo.Street1), "PO BOX")
}

// DestCountry normalises the destination country for the carrier APIs.
// Puerto Rico orders carry US as country with PR as state.
func (o *Order) DestCountry() string {
	c := o.Customer.ShipTo.Country
	if c == "US" || c == "CA" {
		return c
	}
	return "US"
}

// RateFor looks up the ShipStation price of a named service on a carrier.
func (o *Order) RateFor(carrier, service string) (float64, bool) {
	for _, s := range o.Rates[carrier] {
		if s.Name == service {
			return s.Cost, true
		}
	}
	return 0, false
}
