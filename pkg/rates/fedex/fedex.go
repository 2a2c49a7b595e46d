// Package fedex rates orders against the FedEx Rates and Transit Times
// API and the fedex account on ShipStation.
package fedex

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lentics/shipstation-automation/internal/client"
	"github.com/lentics/shipstation-automation/pkg/order"
	"github.com/lentics/shipstation-automation/pkg/rates"
)

const defaultURL = "https://apis.fedex.com"

// carrier is the FedEx carrier code on ShipStation.
const carrier = "fedex"

// upcharge is applied on the lentics account.
const upcharge = 1.03

const deliveryLayout = "2006-01-02T15:04:05"

// Client talks to the FedEx API.
type Client struct {
	c       *client.Client
	account string
}

// NewClient runs the OAuth client credentials flow and returns an
// authenticated client.
func NewClient() (*Client, error) {

	base := os.Getenv("FEDEX_URL")
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad FedEx URL: %v", err)
	}

	account := os.Getenv("FEDEX_ACCOUNT_NUMBER")
	if account == "" {
		return nil, fmt.Errorf("missing FEDEX_ACCOUNT_NUMBER")
	}

	hc := &http.Client{Timeout: 10 * time.Second}
	token, err := fetchToken(hc, base)
	if err != nil {
		return nil, err
	}

	return &Client{
		c: &client.Client{
			BaseURL:    u,
			HTTPClient: hc,
			Headers: map[string]string{
				"Authorization":             "Bearer " + token,
				"x-customer-transaction-id": uuid.NewString(),
				"x-locale":                  "en_US",
			},
		},
		account: account,
	}, nil
}

// fetchToken requests an OAuth token.
func fetchToken(hc *http.Client, base string) (string, error) {

	id := os.Getenv("API_KEY_LENTICS_FEDEX")
	secret := os.Getenv("API_SECRET_LENTICS_FEDEX")
	if id == "" || secret == "" {
		return "", fmt.Errorf("missing FedEx credentials")
	}

	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {id},
		"client_secret": {secret},
	}
	resp, err := hc.Post(base+"/oauth/token",
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to get FedEx OAuth token: %v", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read FedEx token response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("FedEx token request failed: status %v: %s", resp.StatusCode, b)
	}
	tok := gjson.GetBytes(b, "access_token").String()
	if tok == "" {
		return "", fmt.Errorf("FedEx token response had no access token")
	}
	fmt.Println("FedEx OAuth token request successful")
	return tok, nil
}

// quoteRequest is the rates/quotes payload.
type quoteRequest struct {
	AccountNumber struct {
		Value string `json:"value"`
	} `json:"accountNumber"`
	RateRequestControlParameters struct {
		ReturnTransitTimes bool `json:"returnTransitTimes"`
	} `json:"rateRequestControlParameters"`
	RequestedShipment struct {
		Shipper         party      `json:"shipper"`
		Recipient       party      `json:"recipient"`
		ShipDateStamp   string     `json:"shipDateStamp"`
		PickupType      string     `json:"pickupType"`
		RateRequestType []string   `json:"rateRequestType"`
		LineItems       []lineItem `json:"requestedPackageLineItems"`
	} `json:"requestedShipment"`
}

type lineItem struct {
	Weight struct {
		Units string  `json:"units"`
		Value float64 `json:"value"`
	} `json:"weight"`
}

type party struct {
	Address struct {
		PostalCode          string `json:"postalCode"`
		StateOrProvinceCode string `json:"stateOrProvinceCode"`
		CountryCode         string `json:"countryCode"`
		Residential         bool   `json:"residential"`
	} `json:"address"`
}

// option is one quoted service joined with its ShipStation name.
type option struct {
	name     string
	delivery time.Time
	price    float64
}

// BestRate returns the winning FedEx rate for an order, or nil when the
// fedex account was not quoted by ShipStation. It also records the
// SmartPost delivery estimate on the shipment for the front end.
func (c *Client) BestRate(o *order.Order) (*rates.Rate, error) {

	if len(o.Rates[carrier]) == 0 {
		return nil, nil
	}

	options, err := c.quotes(o)
	if err != nil {
		return nil, err
	}

	o.Shipment.SmartPostDate = smartPostDate(options)

	var onTime []rates.Rate
	for _, op := range options {
		if op.delivery.After(o.DeliverBy) {
			continue
		}
		onTime = append(onTime, rates.Rate{
			CarrierCode:  carrier,
			ServiceCode:  op.name,
			Price:        op.price,
			DeliveryDate: op.delivery,
		})
	}
	if len(onTime) == 0 {
		return nil, fmt.Errorf("no FedEx service arrives by %v", o.DeliverBy.Format("2006-01-02"))
	}

	best := rates.Best(onTime)
	if o.Account == "lentics" {
		best.Price = rates.RoundCents(best.Price * upcharge)
	}
	return best, nil
}

// quotes calls the rates/quotes API and joins the services with the
// ShipStation prices. Services ShipStation never quoted are dropped.
func (c *Client) quotes(o *order.Order) ([]option, error) {

	var qr quoteRequest
	qr.AccountNumber.Value = c.account
	qr.RateRequestControlParameters.ReturnTransitTimes = true

	qr.RequestedShipment.Shipper.Address.PostalCode = o.Shipment.From.PostalCode
	qr.RequestedShipment.Shipper.Address.StateOrProvinceCode = o.Shipment.From.State
	qr.RequestedShipment.Shipper.Address.CountryCode = o.Shipment.From.Country

	qr.RequestedShipment.Recipient.Address.PostalCode = zip5(o.Customer.ShipTo.PostalCode)
	qr.RequestedShipment.Recipient.Address.StateOrProvinceCode = o.Customer.ShipTo.State
	qr.RequestedShipment.Recipient.Address.CountryCode = o.DestCountry()
	qr.RequestedShipment.Recipient.Address.Residential = o.Customer.ShipTo.Residential

	qr.RequestedShipment.ShipDateStamp = o.ShipDate
	qr.RequestedShipment.PickupType = "DROPOFF_AT_FEDEX_LOCATION"
	qr.RequestedShipment.RateRequestType = []string{"ACCOUNT", "LIST"}

	var li lineItem
	li.Weight.Units = "LB"
	// FedEx wants pounds
	li.Weight.Value = o.Shipment.Weight.Value / 16
	qr.RequestedShipment.LineItems = []lineItem{li}

	body, err := json.Marshal(qr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal quote request: %v", err)
	}

	req, err := c.c.NewRequest("POST", "/rate/v1/rates/quotes", body)
	if err != nil {
		return nil, fmt.Errorf("failed to make quote request: %v", err)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call FedEx: %v", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read FedEx response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("FedEx quote call failed: status %v: %s", resp.StatusCode, b)
	}

	ssPrices := make(map[string]float64)
	for _, s := range o.Rates[carrier] {
		ssPrices[sanitize(s.Name)] = s.Cost
	}

	var options []option
	gjson.GetBytes(b, "output.rateReplyDetails").ForEach(func(_, s gjson.Result) bool {
		name := serviceName(o, s.Get("serviceName").String())

		d, err := time.Parse(deliveryLayout, s.Get("commit.dateDetail.dayFormat").String())
		if err != nil {
			return true
		}

		price, ok := ssPrices[sanitize(name)]
		if !ok {
			return true
		}

		options = append(options, option{name: name, delivery: d, price: price})
		return true
	})
	return options, nil
}

// serviceName maps a FedEx service name to the name ShipStation quotes
// it under. SmartPost splits on weight, and Ground swaps with Home
// Delivery for residential destinations.
func serviceName(o *order.Order, name string) string {
	switch {
	case name == "FedEx SmartPost®" && o.Shipment.Weight.Value < 16:
		return "FedEx SmartPost parcel select lightweight"
	case name == "FedEx SmartPost®":
		return "FedEx SmartPost parcel select"
	case name == "FedEx Ground®" && o.Customer.ShipTo.Residential:
		return "FedEx Home Delivery®"
	case name == "FedEx Home Delivery®" && !o.Customer.ShipTo.Residential:
		return "FedEx Ground®"
	}
	return name
}

// smartPostDate formats the SmartPost estimate for the customField2
// update on the front end.
func smartPostDate(options []option) string {
	for _, op := range options {
		if strings.HasPrefix(op.name, "FedEx SmartPost") {
			return "SmartPost D-Date: " + op.delivery.Format("2006-01-02")
		}
	}
	return "SmartPost D-Date: None Provided"
}

// sanitize strips the registered marks and dots that differ between the
// FedEx and ShipStation spellings of a service.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r < 128 && r != '.' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func zip5(z string) string {
	if len(z) > 5 {
		return z[:5]
	}
	return z
}
