package usps

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/lentics/shipstation-automation/internal/config"
	"github.com/lentics/shipstation-automation/pkg/order"
)

const locationsXML = `<SDCGetLocationsResponse>
 <Release>Q1</Release>
 <Expedited>
  <EAD>2024-03-04</EAD>
  <Commitment>
   <MailClass>1</MailClass>
   <CommitmentName>Priority Mail Express</CommitmentName>
   <CommitmentSeq>A0118</CommitmentSeq>
   <Location><SDD>2024-03-05</SDD></Location>
   <Location><SDD>2024-03-06</SDD></Location>
  </Commitment>
  <Commitment>
   <MailClass>2</MailClass>
   <CommitmentName>Priority Mail</CommitmentName>
   <CommitmentSeq>B0210</CommitmentSeq>
   <Location><SDD>2024-03-06</SDD></Location>
  </Commitment>
 </Expedited>
 <NonExpedited>
  <MailClass>3</MailClass>
  <NonExpeditedDestType>1</NonExpeditedDestType>
  <SvcStdDays>4</SvcStdDays>
  <SchedDlvryDate>2024-03-09</SchedDlvryDate>
 </NonExpedited>
 <NonExpedited>
  <MailClass>3</MailClass>
  <NonExpeditedDestType>2</NonExpeditedDestType>
  <SvcStdDays>3</SvcStdDays>
  <SchedDlvryDate>2024-03-07</SchedDlvryDate>
 </NonExpedited>
</SDCGetLocationsResponse>`

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	os.Setenv("USPS_URL", srv.URL)
	os.Setenv("API_KEY_NUVEAU_USPS", "WEBTOOLSID")
	os.Setenv("API_SECRET_NUVEAU_USPS", "pw")
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func testOrder(services []order.Service) *order.Order {
	o := &order.Order{
		Account:   "nuveau",
		DeliverBy: time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC),
		ShipDate:  "2024-03-04",
		Rates:     map[string][]order.Service{},
	}
	if services != nil {
		o.Rates["stamps_com"] = services
	}
	o.Customer.ShipTo = order.Address{PostalCode: "60601-2345"}
	o.Shipment.From = &config.Address{PostalCode: "49022"}
	return o
}

func TestBestRate(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("API") != "SDCGetLocations" {
			t.Errorf("request had API=%q", q.Get("API"))
		}
		doc := q.Get("XML")
		if !strings.Contains(doc, `USERID="WEBTOOLSID"`) {
			t.Errorf("request XML missing user id: %v", doc)
		}
		if !strings.Contains(doc, "<OriginZIP>49022</OriginZIP>") ||
			!strings.Contains(doc, "<DestinationZIP>60601</DestinationZIP>") {
			t.Errorf("request XML has wrong lane: %v", doc)
		}
		if !strings.Contains(doc, "<AcceptDate>04-Mar-2024</AcceptDate>") {
			t.Errorf("request XML has wrong accept date: %v", doc)
		}
		fmt.Fprint(w, locationsXML)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	tt := []struct {
		name        string
		services    []order.Service
		deliverBy   time.Time
		wantService string
		wantPrice   float64
	}{
		{
			name: "cheapest on-time service wins",
			services: []order.Service{
				{Name: "USPS Ground Advantage - Package", Cost: 8.00},
				{Name: "USPS Priority Mail - Package", Cost: 12.00},
				{Name: "USPS Priority Mail Express - Package", Cost: 30.00},
			},
			wantService: "USPS Priority Mail - Package",
			wantPrice:   12.00,
		},
		{
			name: "pays a little more to arrive earlier",
			services: []order.Service{
				{Name: "USPS Priority Mail - Package", Cost: 12.00},
				{Name: "USPS Priority Mail Express - Package", Cost: 12.30},
			},
			wantService: "USPS Priority Mail Express - Package",
			wantPrice:   12.30,
		},
		{
			name: "first class rides the ground advantage date",
			services: []order.Service{
				{Name: "USPS First Class Mail - Package", Cost: 5.50},
				{Name: "USPS Ground Advantage - Package", Cost: 8.00},
				{Name: "USPS Priority Mail - Package", Cost: 12.00},
			},
			deliverBy:   time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
			wantService: "USPS First Class Mail - Package",
			wantPrice:   5.50,
		},
		{
			name: "first class flats are priced too",
			services: []order.Service{
				{Name: "USPS First Class Mail - Large Envelope or Flat", Cost: 4.20},
				{Name: "USPS Priority Mail - Package", Cost: 12.00},
			},
			deliverBy:   time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC),
			wantService: "USPS First Class Mail - Large Envelope or Flat",
			wantPrice:   4.20,
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			o := testOrder(tc.services)
			if !tc.deliverBy.IsZero() {
				o.DeliverBy = tc.deliverBy
			}
			got, err := c.BestRate(o)
			if err != nil {
				t.Fatalf("BestRate: %v", err)
			}
			if got == nil {
				t.Fatal("BestRate returned no rate")
			}
			if got.CarrierCode != "stamps_com" || got.ServiceCode != tc.wantService {
				t.Errorf("got %v %v, want stamps_com %v", got.CarrierCode, got.ServiceCode, tc.wantService)
			}
			if got.Price != tc.wantPrice {
				t.Errorf("got price %v, want %v", got.Price, tc.wantPrice)
			}
		})
	}
}

func TestBestRateNoStampsQuote(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("rated an order ShipStation never quoted")
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	got, err := c.BestRate(testOrder(nil))
	if err != nil {
		t.Fatalf("BestRate: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want no rate without a stamps.com quote", got)
	}
}

func TestBestRateAPIError(t *testing.T) {

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<Error><Number>80040B1A</Number><Description>Authorization failure</Description></Error>`)
	}))
	defer srv.Close()
	c := newTestClient(t, srv)

	_, err := c.BestRate(testOrder([]order.Service{
		{Name: "USPS Priority Mail - Package", Cost: 12.00},
	}))
	if err == nil || !strings.Contains(err.Error(), "Authorization failure") {
		t.Errorf("got %v, want authorization failure", err)
	}
}
