// Package ups rates orders against the UPS Time in Transit API and the
// two UPS carrier accounts on ShipStation.
package ups

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/lentics/shipstation-automation/internal/client"
	"github.com/lentics/shipstation-automation/pkg/order"
	"github.com/lentics/shipstation-automation/pkg/rates"
)

const defaultURL = "https://onlinetools.ups.com"

// groundSaver is the synthesized residential service.
const groundSaver = "UPS Ground Saver"

// upcharge is applied to the non-walleted ups account.
const upcharge = 1.03

// accounts are the UPS carrier codes on ShipStation.
var accounts = []string{"ups", "ups_walleted"}

// Client talks to the UPS API.
type Client struct {
	c *client.Client
}

// NewClient runs the OAuth client credentials flow and returns an
// authenticated client.
func NewClient() (*Client, error) {

	base := os.Getenv("UPS_URL")
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad UPS URL: %v", err)
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
				"Authorization":  "Bearer " + token,
				"transactionSrc": "shipstation-automation",
				// UPS wants a 32 character id unique to this run
				"transId": strings.ReplaceAll(uuid.NewString(), "-", ""),
			},
		},
	}, nil
}

// fetchToken requests an OAuth token, retrying a few times.
func fetchToken(hc *http.Client, base string) (string, error) {

	id := os.Getenv("API_KEY_LENTICS_UPS")
	secret := os.Getenv("API_SECRET_LENTICS_UPS")
	if id == "" || secret == "" {
		return "", fmt.Errorf("missing UPS credentials")
	}

	auth := url.QueryEscape(id) + ":" + url.QueryEscape(secret)
	creds := base64.StdEncoding.EncodeToString([]byte(auth))

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequest("POST", base+"/security/v1/oauth/token",
			strings.NewReader("grant_type=client_credentials"))
		if err != nil {
			return "", err
		}
		req.Header.Set("Authorization", "Basic "+creds)
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

		resp, err := hc.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Second)
			continue
		}
		b, err := ioutil.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("token request failed: status %v: %s", resp.StatusCode, b)
			time.Sleep(time.Second)
			continue
		}
		tok := gjson.GetBytes(b, "access_token").String()
		if tok == "" {
			return "", fmt.Errorf("token response had no access token")
		}
		fmt.Println("UPS OAuth token request successful")
		return tok, nil
	}
	return "", fmt.Errorf("failed to get UPS OAuth token: %v", lastErr)
}

// transitRequest is the Time in Transit payload.
type transitRequest struct {
	OriginCountryCode       string `json:"originCountryCode"`
	OriginCityName          string `json:"originCityName"`
	OriginPostalCode        string `json:"originPostalCode"`
	DestinationCountryCode  string `json:"destinationCountryCode"`
	DestinationStateProv    string `json:"destinationStateProvince"`
	DestinationCityName     string `json:"destinationCityName"`
	DestinationPostalCode   string `json:"destinationPostalCode"`
	Weight                  string `json:"weight"`
	WeightUnitOfMeasure     string `json:"weightUnitOfMeasure"`
	ShipmentContentsCurreny string `json:"shipmentContentsCurrencyCode"`
	BillType                string `json:"billType"`
	ShipDate                string `json:"shipDate"`
	ResidentialIndicator    string `json:"residentialIndicator"`
	AvvFlag                 bool   `json:"avvFlag"`
	NumberOfPackages        string `json:"numberOfPackages"`
	ReturnUnfilterdServices bool   `json:"returnUnfilterdServices"`
}

// service is one Time in Transit estimate.
type service struct {
	level       string
	description string
	transitDays int64
	delivery    time.Time
	deliveryDay string
}

// BestRate returns the winning UPS rate for an order, or nil when
// neither UPS account was quoted by ShipStation.
func (c *Client) BestRate(o *order.Order) (*rates.Rate, error) {

	var quoted []string
	for _, a := range accounts {
		if len(o.Rates[a]) > 0 {
			quoted = append(quoted, a)
		}
	}
	if len(quoted) == 0 {
		return nil, nil
	}

	services, err := c.transitTimes(o)
	if err != nil {
		return nil, err
	}

	// UPS never quotes Ground Saver transit, synthesize it
	if o.Customer.ShipTo.Residential {
		services = addGroundSaver(services)
	}

	valid := onTime(services, o.DeliverBy)

	options := priceServices(o, quoted, valid)
	if len(options) == 0 {
		return nil, fmt.Errorf("no UPS service arrives by %v", o.DeliverBy.Format("2006-01-02"))
	}

	return bestOption(options), nil
}

// transitTimes calls the Time in Transit API.
func (c *Client) transitTimes(o *order.Order) ([]service, error) {

	residential := "02"
	if o.Customer.ShipTo.Residential {
		residential = "01"
	}

	// UPS wants kilograms
	weight := "5"
	if o.Shipment.Weight.Units == "ounces" {
		weight = fmt.Sprintf("%.1f", 0.028*o.Shipment.Weight.Value)
	}

	tr := transitRequest{
		OriginCountryCode:       "US",
		OriginCityName:          o.Shipment.From.City,
		OriginPostalCode:        o.Shipment.From.PostalCode,
		DestinationCountryCode:  o.DestCountry(),
		DestinationStateProv:    o.Customer.ShipTo.State,
		DestinationCityName:     o.Customer.ShipTo.City,
		DestinationPostalCode:   strings.ReplaceAll(o.Customer.ShipTo.PostalCode, "-", ""),
		Weight:                  weight,
		WeightUnitOfMeasure:     "KGS",
		ShipmentContentsCurreny: "USD",
		BillType:                "03",
		ShipDate:                o.ShipDate,
		ResidentialIndicator:    residential,
		AvvFlag:                 true,
		NumberOfPackages:        "1",
	}

	body, err := json.Marshal(tr)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transit request: %v", err)
	}

	req, err := c.c.NewRequest("POST", "/api/shipments/v1/transittimes", body)
	if err != nil {
		return nil, fmt.Errorf("failed to make transit request: %v", err)
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call UPS: %v", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read UPS response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("UPS transit call failed: status %v: %s", resp.StatusCode, b)
	}

	var services []service
	gjson.GetBytes(b, "emsResponse.services").ForEach(func(_, s gjson.Result) bool {
		d, err := time.Parse("2006-01-02", s.Get("deliveryDate").String())
		if err != nil {
			return true
		}
		services = append(services, service{
			level:       s.Get("serviceLevel").String(),
			description: s.Get("serviceLevelDescription").String(),
			transitDays: s.Get("businessTransitDays").Int(),
			delivery:    d,
			deliveryDay: s.Get("deliveryDayOfWeek").String(),
		})
		return true
	})
	return services, nil
}

// onTime keeps services arriving by the deliver-by date.
func onTime(services []service, deliverBy time.Time) []service {
	var valid []service
	for _, s := range services {
		if !s.delivery.After(deliverBy) {
			valid = append(valid, s)
		}
	}
	return valid
}

// addGroundSaver derives a Ground Saver estimate from UPS Ground: one
// extra transit day, two over a Saturday since it never delivers Sunday.
func addGroundSaver(services []service) []service {

	for _, s := range services {
		if s.description != "UPS Ground" {
			continue
		}
		gs := s
		gs.level = "GNS"
		gs.description = groundSaver
		days := 1
		if s.deliveryDay == "SAT" {
			days = 2
		}
		gs.transitDays += int64(days)
		gs.delivery = s.delivery.AddDate(0, 0, days)
		gs.deliveryDay = strings.ToUpper(gs.delivery.Format("Mon"))
		return append(services, gs)
	}
	return services
}

// priceServices joins UPS transit estimates with the ShipStation prices
// for each UPS account.
func priceServices(o *order.Order, quoted []string, services []service) []rates.Rate {

	var options []rates.Rate
	for _, s := range services {
		// ShipStation names Ground with the mark, UPS without
		name := s.description
		if name == "UPS Ground" {
			name = "UPS® Ground"
		}

		for _, acct := range quoted {
			price, ok := o.RateFor(acct, name)
			if !ok {
				continue
			}
			if acct == "ups" {
				price = rates.RoundCents(price * upcharge)
			}
			options = append(options, rates.Rate{
				CarrierCode:  acct,
				ServiceCode:  name,
				Price:        price,
				DeliveryDate: s.delivery,
			})
		}
	}
	return options
}

// bestOption picks the winning priced option. Ground Saver trades a
// transit day for money, so it only wins when it saves enough.
func bestOption(options []rates.Rate) *rates.Rate {

	sorted := make([]rates.Rate, len(options))
	copy(sorted, options)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	if sorted[0].ServiceCode == groundSaver {
		var cheapestOther *rates.Rate
		for i := range sorted[1:] {
			if sorted[i+1].ServiceCode != groundSaver {
				cheapestOther = &sorted[i+1]
				break
			}
		}
		if cheapestOther != nil && cheapestOther.Price-sorted[0].Price < rates.GroundSaverMinSaving {
			var kept []rates.Rate
			for _, s := range sorted {
				if s.ServiceCode != groundSaver {
					kept = append(kept, s)
				}
			}
			sorted = kept
		}
	}

	return rates.Best(sorted)
}
