// Package shipstation is a client for the ShipStation v1 API.
package shipstation

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/lentics/shipstation-automation/internal/client"
	"github.com/lentics/shipstation-automation/pkg/rates"
)

const defaultURL = "https://ssapi.shipstation.com"

// pageSize is the order list page size.
const pageSize = 100

// ErrCarrierUnavailable marks a carrier ShipStation could not quote,
// usually because the package details are invalid for it.
var ErrCarrierUnavailable = fmt.Errorf("carrier unavailable")

// API talks to one ShipStation account.
type API struct {
	c          *client.Client
	account    string
	maxRetries int
	retryDelay time.Duration
	sleep      func(time.Duration)
}

// New builds a client for the named account using the credentials the
// secrets loader exported to the environment.
func New(account string) (*API, error) {

	upper := strings.ToUpper(account)
	key := os.Getenv("API_KEY_" + upper + "_SHIPSTATION")
	secret := os.Getenv("API_SECRET_" + upper + "_SHIPSTATION")
	if key == "" || secret == "" {
		return nil, fmt.Errorf("missing credentials for account %v", account)
	}

	base := os.Getenv("SHIPSTATION_URL")
	if base == "" {
		base = defaultURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("bad ShipStation URL: %v", err)
	}

	creds := base64.StdEncoding.EncodeToString([]byte(key + ":" + secret))

	return &API{
		c: &client.Client{
			BaseURL:    u,
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
			Headers:    map[string]string{"Authorization": "Basic " + creds},
		},
		account:    account,
		maxRetries: 10,
		retryDelay: 5 * time.Second,
		sleep:      time.Sleep,
	}, nil
}

// do runs one request and honours the rate limit headers.
func (a *API) do(method, path string, body []byte) ([]byte, int, error) {

	req, err := a.c.NewRequest(method, path, body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to make request: %v", err)
	}

	resp, err := a.c.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to call ShipStation: %v", err)
	}
	defer resp.Body.Close()

	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read ShipStation response: %v", err)
	}

	a.throttle(resp.Header)
	return b, resp.StatusCode, nil
}

// throttle sleeps out the rate window when the call budget is nearly
// spent.
func (a *API) throttle(h http.Header) {

	remaining, err := strconv.Atoi(h.Get("X-Rate-Limit-Remaining"))
	if err != nil {
		return
	}
	reset, err := strconv.Atoi(h.Get("X-Rate-Limit-Reset"))
	if err != nil {
		return
	}
	if remaining <= 2 {
		fmt.Printf("rate limit nearly spent on %v, sleeping %vs\n", a.account, reset)
		a.sleep(time.Duration(reset) * time.Second)
	}
}

// RefreshStores asks ShipStation to pull new orders into every store so
// the list call sees them. Individual store failures are logged, not
// fatal.
func (a *API) RefreshStores(stores map[string]int) {

	for name, id := range stores {
		b, status, err := a.do("POST", fmt.Sprintf("/stores/refreshstore?storeId=%d", id), nil)
		if err != nil || status != http.StatusOK {
			fmt.Printf("failed to refresh store %v: status %v, %v\n", name, status, err)
			continue
		}
		if gjson.GetBytes(b, "success").String() != "true" {
			fmt.Printf("store %v did not refresh: %s\n", name, b)
			continue
		}
		fmt.Printf("refreshed store %v\n", name)
		a.sleep(500 * time.Millisecond)
	}
}

// ListAwaitingShipment fetches every order awaiting shipment, paging
// through the list. Each page is retried a bounded number of times.
func (a *API) ListAwaitingShipment() ([]json.RawMessage, error) {

	var all []json.RawMessage

	page, pages := 1, 1
	for page <= pages {
		path := fmt.Sprintf("/orders/list?orderStatus=awaiting_shipment&pageSize=%d&page=%d&sortBy=OrderDate&sortDir=ASC", pageSize, page)

		b, err := a.getWithRetry(path)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch order page %v: %v", page, err)
		}

		if p := gjson.GetBytes(b, "pages").Int(); p > 0 {
			pages = int(p)
		}

		gjson.GetBytes(b, "orders").ForEach(func(_, o gjson.Result) bool {
			all = append(all, json.RawMessage(o.Raw))
			return true
		})
		page++
	}

	fmt.Printf("fetched %v awaiting shipment orders on %v\n", len(all), a.account)
	return all, nil
}

func (a *API) getWithRetry(path string) ([]byte, error) {

	var lastErr error
	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		b, status, err := a.do("GET", path, nil)
		if err == nil && status == http.StatusOK {
			return b, nil
		}
		if err == nil {
			err = fmt.Errorf("status %v: %s", status, b)
		}
		lastErr = err
		fmt.Printf("attempt %v failed: %v\n", attempt, err)
		a.sleep(a.retryDelay)
	}
	return nil, lastErr
}

// RatedService is one service from a getrates call.
type RatedService struct {
	Name string
	Code string
	// Cost is shipment cost plus other cost, rounded to cents
	Cost float64
}

// RateWeight is the weight block of a rate request.
type RateWeight struct {
	Value float64 `json:"value"`
	Units string  `json:"units"`
}

// RateDims is the dimensions block of a rate request.
type RateDims struct {
	Units  string `json:"units"`
	Length int    `json:"length"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RateRequest asks ShipStation to quote one carrier for a package.
type RateRequest struct {
	CarrierCode     string     `json:"carrierCode"`
	ServiceCode     *string    `json:"serviceCode"`
	PackageCode     string     `json:"packageCode"`
	FromPostalCode  string     `json:"fromPostalCode"`
	FromCity        string     `json:"fromCity,omitempty"`
	FromState       string     `json:"fromState,omitempty"`
	FromWarehouseID int        `json:"fromWarehouseId,omitempty"`
	ToState         string     `json:"toState"`
	ToCountry       string     `json:"toCountry"`
	ToPostalCode    string     `json:"toPostalCode"`
	ToCity          string     `json:"toCity,omitempty"`
	Weight          RateWeight `json:"weight"`
	Dimensions      RateDims   `json:"dimensions"`
	Confirmation    string     `json:"confirmation"`
	Residential     bool       `json:"residential"`
}

// GetRates quotes one carrier. A 500 from ShipStation means the package
// is not valid for the carrier and returns ErrCarrierUnavailable.
func (a *API) GetRates(r RateRequest) ([]RatedService, error) {

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rate request: %v", err)
	}

	b, status, err := a.do("POST", "/shipments/getrates", body)
	if err != nil {
		return nil, err
	}
	if status == http.StatusInternalServerError {
		return nil, ErrCarrierUnavailable
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("getrates failed: status %v: %s", status, b)
	}

	var services []RatedService
	gjson.ParseBytes(b).ForEach(func(_, s gjson.Result) bool {
		cost := s.Get("shipmentCost").Float() + s.Get("otherCost").Float()
		services = append(services, RatedService{
			Name: s.Get("serviceName").String(),
			Code: s.Get("serviceCode").String(),
			Cost: rates.RoundCents(cost),
		})
		return true
	})
	return services, nil
}

// AddTag tags an order on the front end.
func (a *API) AddTag(orderID int64, tagID int) error {

	payload, err := json.Marshal(map[string]interface{}{
		"orderId": orderID,
		"tagId":   tagID,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal tag payload: %v", err)
	}

	b, status, err := a.do("POST", "/orders/addtag", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !gjson.GetBytes(b, "success").Bool() {
		return fmt.Errorf("failed to tag order %v: status %v: %s", orderID, status, b)
	}
	return nil
}

// CreateOrder creates or updates an order. ShipStation upserts on the
// order key, so re-running the batch is safe.
func (a *API) CreateOrder(payload []byte) error {

	b, status, err := a.do("POST", "/orders/createorder", payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("createorder failed: status %v: %s", status, b)
	}
	return nil
}

// UpdateProduct replaces a product record.
func (a *API) UpdateProduct(productID int64, payload []byte) error {

	b, status, err := a.do("PUT", fmt.Sprintf("/products/%d", productID), payload)
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return fmt.Errorf("failed to update product %v: status %v: %s", productID, status, b)
	}
	return nil
}

// HoldUntil moves an order to the on hold status until a date.
func (a *API) HoldUntil(orderID int64, date string) error {

	payload, err := json.Marshal(map[string]interface{}{
		"orderId":       orderID,
		"holdUntilDate": date,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal hold payload: %v", err)
	}

	b, status, err := a.do("POST", "/orders/holduntil", payload)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to hold order %v: status %v: %s", orderID, status, b)
	}
	return nil
}
