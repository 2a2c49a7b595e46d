// Package usps rates orders against the USPS Service Commitments API
// and the stamps.com account on ShipStation.
package usps

import (
	"encoding/xml"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/lentics/shipstation-automation/internal/client"
	"github.com/lentics/shipstation-automation/pkg/order"
	"github.com/lentics/shipstation-automation/pkg/rates"
)

const defaultURL = "https://secure.shippingapis.com"

// carrier is the USPS reseller account on ShipStation.
const carrier = "stamps_com"

// mailClasses maps SDC mail class codes to service names. Classes 3, 6,
// 7 and 9 all collapsed into Ground Advantage.
var mailClasses = map[string]string{
	"1": "Priority Mail Express",
	"2": "Priority Mail",
	"3": "USPS Ground Advantage",
	"6": "USPS Ground Advantage",
	"7": "USPS Ground Advantage",
	"9": "USPS Ground Advantage",
}

// shipstationServices maps each name ShipStation quotes to the USPS
// service that commits its delivery date. First Class rides the Ground
// Advantage commitment.
var shipstationServices = map[string]string{
	"USPS Priority Mail Express - Package":           "Priority Mail Express",
	"USPS Priority Mail - Package":                   "Priority Mail",
	"USPS Ground Advantage - Package":                "USPS Ground Advantage",
	"USPS First Class Mail - Package":                "USPS Ground Advantage",
	"USPS First Class Mail - Large Envelope or Flat": "USPS Ground Advantage",
}

// Client talks to the USPS web tools API.
type Client struct {
	c      *client.Client
	userID string
	pass   string
}

// New returns a USPS client using the web tools credentials from the
// environment.
func New() (*Client, error) {

	userID := os.Getenv("API_KEY_NUVEAU_USPS")
	pass := os.Getenv("API_SECRET_NUVEAU_USPS")
	if userID == "" {
		return nil, fmt.Errorf("missing USPS credentials")
	}

	base := os.Getenv("USPS_URL")
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad USPS URL: %v", err)
	}

	return &Client{
		c: &client.Client{
			BaseURL:    u,
			HTTPClient: &http.Client{Timeout: 10 * time.Second},
		},
		userID: userID,
		pass:   pass,
	}, nil
}

// locationsRequest is the SDCGetLocations request document.
type locationsRequest struct {
	XMLName        xml.Name `xml:"SDCGetLocationsRequest"`
	UserID         string   `xml:"USERID,attr"`
	Password       string   `xml:"PASSWORD,attr"`
	MailClass      int      `xml:"MailClass"`
	OriginZIP      string   `xml:"OriginZIP"`
	DestinationZIP string   `xml:"DestinationZIP"`
	AcceptDate     string   `xml:"AcceptDate"`
}

// locationsResponse is the SDCGetLocations response document.
type locationsResponse struct {
	XMLName   xml.Name `xml:"SDCGetLocationsResponse"`
	Expedited struct {
		Commitments []commitment `xml:"Commitment"`
	} `xml:"Expedited"`
	NonExpedited []nonExpedited `xml:"NonExpedited"`
}

type commitment struct {
	MailClass      string `xml:"MailClass"`
	CommitmentName string `xml:"CommitmentName"`
	CommitmentSeq  string `xml:"CommitmentSeq"`
	Locations      []struct {
		SDD string `xml:"SDD"`
	} `xml:"Location"`
}

type nonExpedited struct {
	MailClass            string `xml:"MailClass"`
	NonExpeditedDestType string `xml:"NonExpeditedDestType"`
	SvcStdDays           string `xml:"SvcStdDays"`
	SchedDlvryDate       string `xml:"SchedDlvryDate"`
}

type apiError struct {
	XMLName     xml.Name `xml:"Error"`
	Number      string   `xml:"Number"`
	Description string   `xml:"Description"`
}

// BestRate returns the winning USPS rate for an order, or nil when the
// stamps.com account was not quoted by ShipStation.
func (c *Client) BestRate(o *order.Order) (*rates.Rate, error) {

	if len(o.Rates[carrier]) == 0 {
		return nil, nil
	}

	resp, err := c.locations(o)
	if err != nil {
		return nil, err
	}

	dates := deliveryDates(resp)

	var options []rates.Rate
	for _, s := range o.Rates[carrier] {
		svc, ok := shipstationServices[s.Name]
		if !ok {
			continue
		}
		delivery, ok := dates[svc]
		if !ok {
			continue
		}
		if delivery.After(o.DeliverBy) {
			continue
		}
		options = append(options, rates.Rate{
			CarrierCode:  carrier,
			ServiceCode:  s.Name,
			Price:        s.Cost,
			DeliveryDate: delivery,
		})
	}

	if len(options) == 0 {
		return nil, fmt.Errorf("no USPS service arrives by %v", o.DeliverBy.Format("2006-01-02"))
	}

	return rates.Best(options), nil
}

// locations calls SDCGetLocations for an order's lane.
func (c *Client) locations(o *order.Order) (*locationsResponse, error) {

	accept, err := time.Parse("2006-01-02", o.ShipDate)
	if err != nil {
		return nil, fmt.Errorf("bad ship date %q: %v", o.ShipDate, err)
	}

	lr := locationsRequest{
		UserID:         c.userID,
		Password:       c.pass,
		MailClass:      0,
		OriginZIP:      zip5(o.Shipment.From.PostalCode),
		DestinationZIP: zip5(o.Customer.ShipTo.PostalCode),
		AcceptDate:     accept.Format("02-Jan-2006"),
	}
	doc, err := xml.Marshal(lr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal locations request: %v", err)
	}

	path := "/shippingapi.dll?API=SDCGetLocations&XML=" + url.QueryEscape(string(doc))
	req, err := c.c.NewRequest("GET", path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to make locations request: %v", err)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call USPS: %v", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read USPS response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("USPS call failed: status %v: %s", resp.StatusCode, b)
	}

	var apiErr apiError
	if xml.Unmarshal(b, &apiErr) == nil && apiErr.Description != "" {
		return nil, fmt.Errorf("USPS error %v: %v", apiErr.Number, apiErr.Description)
	}

	var lresp locationsResponse
	err = xml.Unmarshal(b, &lresp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse USPS response: %v", err)
	}
	return &lresp, nil
}

// deliveryDates reduces the response to one delivery date per service.
// Expedited commitments repeat per drop-off location, the first entry
// per mail class is the earliest. Non-expedited entries count only when
// they commit to the destination itself.
func deliveryDates(resp *locationsResponse) map[string]time.Time {

	dates := make(map[string]time.Time)

	for _, cm := range resp.Expedited.Commitments {
		name, ok := mailClasses[cm.MailClass]
		if !ok || len(cm.Locations) == 0 {
			continue
		}
		if _, seen := dates[name]; seen {
			continue
		}
		d, err := time.Parse("2006-01-02", cm.Locations[0].SDD)
		if err != nil {
			continue
		}
		dates[name] = d
	}

	for _, ne := range resp.NonExpedited {
		if ne.NonExpeditedDestType != "1" {
			continue
		}
		name, ok := mailClasses[ne.MailClass]
		if !ok {
			continue
		}
		if _, seen := dates[name]; seen {
			continue
		}
		d, err := time.Parse("2006-01-02", ne.SchedDlvryDate)
		if err != nil {
			continue
		}
		dates[name] = d
	}

	return dates
}

// zip5 strips the plus four from a postal code.
func zip5(z string) string {
	if len(z) > 5 {
		return z[:5]
	}
	return z
}
