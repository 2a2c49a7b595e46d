// Package processor runs the order batch: fetch, rate, pick a winner
// and write the shipping choice back to ShipStation.
package processor

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/lentics/shipstation-automation/internal/config"
	"github.com/lentics/shipstation-automation/pkg/customerlog"
	"github.com/lentics/shipstation-automation/pkg/order"
	"github.com/lentics/shipstation-automation/pkg/rates"
	"github.com/lentics/shipstation-automation/pkg/shipstation"
)

// Shipper provides an interface for the ShipStation operations the
// batch needs.
type Shipper interface {
	RefreshStores(stores map[string]int)
	ListAwaitingShipment() ([]json.RawMessage, error)
	GetRates(r shipstation.RateRequest) ([]shipstation.RatedService, error)
	AddTag(orderID int64, tagID int) error
	CreateOrder(payload []byte) error
	UpdateProduct(productID int64, payload []byte) error
	HoldUntil(orderID int64, date string) error
}

// Rater provides an interface for picking a carrier's best rate. A nil
// rate with a nil error means the carrier does not apply to the order.
type Rater interface {
	BestRate(o *order.Order) (*rates.Rate, error)
}

// CustomerLogger provides an interface for the customer data log.
type CustomerLogger interface {
	Append(rows []customerlog.Row) error
}

// carriers are quoted on every order.
var carriers = []string{"ups", "fedex", "ups_walleted", "stamps_com"}

// failure is an order that failed its first pass.
type failure struct {
	ss     Shipper
	o      *order.Order
	reason string
}

// Processor drives one batch run.
type Processor struct {
	cfg      *config.Config
	shippers map[string]Shipper
	ups      Rater
	usps     Rater
	fedex    Rater
	log      CustomerLogger

	retries []failure
}

// New returns a Processor over the ShipStation accounts and carrier
// raters.
func New(cfg *config.Config, shippers map[string]Shipper, ups, usps, fedex Rater, log CustomerLogger) *Processor {
	return &Processor{
		cfg:      cfg,
		shippers: shippers,
		ups:      ups,
		usps:     usps,
		fedex:    fedex,
		log:      log,
	}
}

// Run processes every awaiting shipment order on every account. Orders
// that fail are retried once, then tagged with the failure reason and
// left for a human.
func (p *Processor) Run() error {

	var rows []customerlog.Row

	for account, ss := range p.shippers {
		ss.RefreshStores(p.cfg.Accounts[account].Stores)

		raws, err := ss.ListAwaitingShipment()
		if err != nil {
			return fmt.Errorf("failed to list orders on %v: %v", account, err)
		}

		for _, raw := range raws {
			o, err := order.Decode(raw, account, p.cfg)
			if err != nil {
				if errors.Is(err, order.ErrSkip) {
					fmt.Printf("skipping order: %v\n", err)
					continue
				}
				fmt.Printf("failed to decode order on %v: %v\n", account, err)
				continue
			}

			if o.IsMulti {
				p.tag(ss, o, "Multi-Order")
			}
			if o.IsDouble {
				p.tag(ss, o, "Double-Order")
			}

			if p.holdOrder(ss, o) {
				continue
			}

			// canvas prints carry their location on the product record
			if !o.IsMulti && strings.HasPrefix(o.Item().SKU, "P1xxc") {
				p.setCanvasLocation(ss, o)
			}

			if !p.fullProgram(ss, o) {
				continue
			}
			rows = append(rows, customerlog.FromOrder(o, p.cfg))
		}
	}

	rows = append(rows, p.retryFailed()...)

	if err := p.log.Append(rows); err != nil {
		fmt.Printf("warning: customer data not logged: %v\n", err)
	}
	return nil
}

func (p *Processor) fullProgram(ss Shipper, o *order.Order) bool {
	return p.initialize(ss, o) && p.setWinningRate(ss, o) && p.setShipping(ss, o)
}

func (p *Processor) halfProgram(ss Shipper, o *order.Order) bool {
	return p.setWinningRate(ss, o) && p.setShipping(ss, o)
}

// initialize sets dimensions where needed and quotes all carriers on
// ShipStation.
func (p *Processor) initialize(ss Shipper, o *order.Order) bool {

	fmt.Printf("initializing order %v on %v\n", o.Key, o.Account)

	if o.IsMulti || o.IsDouble {
		ok, err := o.SetDims(p.cfg)
		if err != nil || !ok {
			p.tag(ss, o, "No-Dims")
			fmt.Printf("no dims for order %v, skipping: %v\n", o.Key, err)
			return false
		}
	}

	if o.DeliverBy.IsZero() {
		p.retries = append(p.retries, failure{ss, o, "No-DeliveryDate"})
		return false
	}

	if err := p.getRates(ss, o); err != nil {
		fmt.Printf("could not get carrier rates for order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "No SS Carrier Rates"})
		return false
	}
	return true
}

// getRates quotes every carrier on ShipStation and records the service
// name to code mapping. A carrier ShipStation cannot quote for this
// package is skipped.
func (p *Processor) getRates(ss Shipper, o *order.Order) error {

	// carrier APIs reject PR as a US state
	if strings.EqualFold(o.Customer.ShipTo.State, "PR") {
		o.Customer.ShipTo.Country = "PR"
	}

	// start clean so a retry does not double up quotes
	o.Rates = make(map[string][]order.Service)
	o.ServiceCodes = make(map[string]string)

	for _, carrier := range carriers {
		services, err := ss.GetRates(p.rateRequest(o, carrier))
		if err != nil {
			if errors.Is(err, shipstation.ErrCarrierUnavailable) {
				continue
			}
			return err
		}
		for _, s := range services {
			o.ServiceCodes[s.Name] = s.Code
			o.Rates[carrier] = append(o.Rates[carrier], order.Service{Name: s.Name, Cost: s.Cost})
		}
	}
	return nil
}

// rateRequest builds the getrates payload for one carrier.
func (p *Processor) rateRequest(o *order.Order, carrier string) shipstation.RateRequest {

	height := int(o.Shipment.Height)
	// billy bass boxes collapse flat for USPS
	if carrier == "stamps_com" && p.isBillyBass(o.Item().SKU) {
		height = 1
	}

	return shipstation.RateRequest{
		CarrierCode:     carrier,
		PackageCode:     o.PackageCode,
		FromPostalCode:  o.Shipment.From.PostalCode,
		FromCity:        o.Shipment.From.City,
		FromState:       strings.ToUpper(o.Shipment.From.State),
		FromWarehouseID: o.WarehouseID,
		ToState:         strings.ToUpper(o.Customer.ShipTo.State),
		ToCountry:       o.DestCountry(),
		ToPostalCode:    o.Customer.ShipTo.PostalCode,
		ToCity:          o.Customer.ShipTo.City,
		Weight: shipstation.RateWeight{
			Value: o.Shipment.Weight.Value,
			Units: "ounces",
		},
		Dimensions: shipstation.RateDims{
			Units:  "inches",
			Length: int(o.Shipment.Length),
			Width:  int(o.Shipment.Width),
			Height: height,
		},
		Confirmation: o.Confirmation,
		Residential:  o.Customer.ShipTo.Residential,
	}
}

// setWinningRate asks each carrier API for its best rate and picks the
// champion.
func (p *Processor) setWinningRate(ss Shipper, o *order.Order) bool {

	// only USPS delivers to PO boxes
	if o.IsPOBox() {
		best, err := p.usps.BestRate(o)
		if err != nil || best == nil {
			fmt.Printf("no USPS rate for PO box order %v: %v\n", o.Key, err)
			p.retries = append(p.retries, failure{ss, o, "No USPS Rate"})
			return false
		}
		o.Winning = best
		return true
	}

	upsBest, err := p.ups.BestRate(o)
	if err != nil {
		fmt.Printf("no UPS rate for order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "No UPS Rate"})
		return false
	}

	uspsBest, err := p.usps.BestRate(o)
	if err != nil {
		fmt.Printf("no USPS rate for order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "No USPS Rate"})
		return false
	}

	fedexBest, err := p.fedex.BestRate(o)
	if err != nil {
		fmt.Printf("no FedEx rate for order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "No Fedex Rate"})
		return false
	}

	// the stallion warehouse does not ship FedEx
	if o.Shipment.FromWarehouse == "stallion" {
		fedexBest = nil
	}

	champion := rates.Champion(upsBest, uspsBest, fedexBest)
	if champion == nil {
		p.retries = append(p.retries, failure{ss, o, "No SS Carrier Rates"})
		return false
	}

	o.Winning = champion
	fmt.Printf("champion rate for order %v: %v\n", o.Key, champion)
	return true
}

// setShipping writes the winning choice back to the order and tags it
// ready.
func (p *Processor) setShipping(ss Shipper, o *order.Order) bool {

	payload, err := p.updatePayload(o)
	if err != nil {
		fmt.Printf("failed to build update for order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "Shipping not set"})
		return false
	}

	if err := ss.CreateOrder(payload); err != nil {
		fmt.Printf("failed to update order %v: %v\n", o.Key, err)
		p.retries = append(p.retries, failure{ss, o, "Shipping not set"})
		return false
	}

	p.tag(ss, o, "Ready")
	fmt.Printf("set shipping for order %v\n", o.Key)
	return true
}

// updatePayload rebuilds the order JSON with the winning carrier. The
// raw order round-trips so fields the batch never touches survive the
// upsert.
func (p *Processor) updatePayload(o *order.Order) ([]byte, error) {

	if o.Winning == nil {
		return nil, fmt.Errorf("order has no winning rate")
	}

	code, ok := o.ServiceCodes[o.Winning.ServiceCode]
	if !ok {
		return nil, fmt.Errorf("no service code for %q", o.Winning.ServiceCode)
	}

	billTo, err := p.cfg.BillTo(o.Account, o.Winning.CarrierCode)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(o.Raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode raw order: %v", err)
	}

	height := o.Shipment.Height
	if o.Winning.CarrierCode == "stamps_com" && p.isBillyBass(o.Item().SKU) {
		height = 1
	}

	doc["requestedShippingService"] = o.Winning.ServiceCode
	doc["carrierCode"] = o.Winning.CarrierCode
	doc["serviceCode"] = code
	doc["packageCode"] = o.PackageCode
	doc["confirmation"] = o.Confirmation
	doc["shipDate"] = o.ShipDate
	doc["weight"] = o.Shipment.Weight
	doc["dimensions"] = map[string]interface{}{
		"length": o.Shipment.Length,
		"width":  o.Shipment.Width,
		"height": height,
		"units":  "inches",
	}

	adv, _ := doc["advancedOptions"].(map[string]interface{})
	if adv == nil {
		adv = make(map[string]interface{})
	}
	adv["billToParty"] = "my_other_account"
	adv["billToMyOtherAccount"] = billTo
	if o.Shipment.SmartPostDate != "" {
		adv["customField2"] = o.Shipment.SmartPostDate
	}
	doc["advancedOptions"] = adv

	return json.Marshal(doc)
}

func (p *Processor) isBillyBass(sku string) bool {
	for _, s := range p.cfg.SKUs.BillyBass {
		if s == sku {
			return true
		}
	}
	return false
}

// holdOrder moves products on the hold list out of the batch until the
// configured date.
func (p *Processor) holdOrder(ss Shipper, o *order.Order) bool {

	date, ok := os.LookupEnv("HOLD_UNTIL_DATE")
	if !ok {
		return false
	}

	sku := o.Item().SKU
	for _, prefix := range p.cfg.SKUs.Hold {
		if strings.HasPrefix(sku, prefix) {
			if err := ss.HoldUntil(o.ID, date); err != nil {
				fmt.Printf("failed to hold order %v: %v\n", o.Key, err)
				return false
			}
			fmt.Printf("held order %v until %v\n", o.Key, date)
			return true
		}
	}
	return false
}

// setCanvasLocation writes the CANVAS warehouse location onto the
// product record.
func (p *Processor) setCanvasLocation(ss Shipper, o *order.Order) {

	it := o.Item()
	payload, err := json.Marshal(map[string]interface{}{
		"productId":         it.ProductID,
		"sku":               it.SKU,
		"name":              it.Name,
		"price":             it.UnitPrice,
		"length":            o.Shipment.Length,
		"width":             o.Shipment.Width,
		"height":            o.Shipment.Height,
		"weightOz":          o.Shipment.Weight.Value,
		"active":            true,
		"warehouseLocation": "CANVAS",
	})
	if err != nil {
		fmt.Printf("failed to marshal product update for %v: %v\n", it.SKU, err)
		return
	}

	if err := ss.UpdateProduct(it.ProductID, payload); err != nil {
		fmt.Printf("could not set warehouse location for order %v: %v\n", o.Number, err)
	}
}

// retryFailed gives every failed order a second pass, entering the
// pipeline at the step that failed. Orders failing twice are tagged
// with the reason.
func (p *Processor) retryFailed() []customerlog.Row {

	var rows []customerlog.Row

	attempts := p.retries
	p.retries = nil

	for _, f := range attempts {
		fmt.Printf("retrying order %v because %v\n", f.o.Key, f.reason)

		var ok bool
		switch f.reason {
		case "No-DeliveryDate", "No SS Carrier Rates":
			ok = p.fullProgram(f.ss, f.o)
		case "No UPS Rate", "No USPS Rate", "No Fedex Rate":
			ok = p.halfProgram(f.ss, f.o)
		case "Shipping not set":
			ok = p.setShipping(f.ss, f.o)
		}

		if !ok {
			p.tag(f.ss, f.o, f.reason)
			continue
		}
		rows = append(rows, customerlog.FromOrder(f.o, p.cfg))
	}

	// failures during the retry pass stay tagged, not retried again
	p.retries = nil
	return rows
}

// tag marks an order on the front end, logging but not failing on
// errors.
func (p *Processor) tag(ss Shipper, o *order.Order, reason string) {

	id, err := p.cfg.Tag(o.Account, reason)
	if err != nil {
		fmt.Printf("failed to tag order %v: %v\n", o.Key, err)
		return
	}
	if err := ss.AddTag(o.ID, id); err != nil {
		fmt.Printf("failed to tag order %v: %v\n", o.Key, err)
		return
	}
	fmt.Printf("tagged order %v with %q\n", o.Key, reason)
}
