package order

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/lentics/shipstation-automation/internal/config"
)

func testConfig() *config.Config {
	c := &config.Config{
		Accounts: map[string]config.Account{
			"nuveau":  {},
			"lentics": {},
		},
		Warehouses: map[string]config.Warehouse{
			"michigan": {
				IDs:     []int{486100},
				Address: config.Address{Name: "Shipping Department", City: "Benton Harbor", State: "MI", PostalCode: "49022", Country: "US"},
			},
			"stallion": {
				IDs:     []int{665600},
				Address: config.Address{Name: "Shipping Department", City: "Indianapolis", State: "IN", PostalCode: "46203", Country: "US"},
			},
		},
		Boxes: map[string]map[string]config.Box{
			"nuveau": {
				"P1": {Length: 13, Width: 18, Height: 0.1, Ounces: 8},
				"F2": {Length: 28, Width: 22, Height: 1.5, Ounces: 80},
				"BB": {Length: 12.5, Width: 8.5, Height: 4.5, Ounces: 32},
				"FS": {Length: 15.75, Width: 8.75, Height: 3.25, Ounces: 32},
			},
			"lentics": {
				"P1": {Length: 13, Width: 18, Height: 0.1, Ounces: 8},
			},
			"stallion": {
				"2024": {Length: 23, Width: 31, Height: 2.0, Ounces: 96},
			},
		},
	}
	c.Skip.StoreIDs = []int{165349}
	c.Skip.WarehouseIDs = []int{779978}
	c.SKUs.BillyBass = []string{"M-BBass"}
	c.SKUs.FreshStool = []string{"FS - Gray + 4 Gels"}
	return c
}

func orderJSON(storeID, warehouseID int, total float64, state string, items string) string {
	return fmt.Sprintf(`{
		"orderId": 123456,
		"orderKey": "111-3451647-5934633",
		"orderNumber": "111-3451647-5934633",
		"orderStatus": "awaiting_shipment",
		"orderTotal": %v,
		"amountPaid": %v,
		"taxAmount": 0,
		"confirmation": "delivery",
		"gift": false,
		"customerId": 98765,
		"customerEmail": "buyer@example.com",
		"billTo": {"name": "A Buyer"},
		"shipTo": {"name": "A Buyer", "street1": "123 Main St", "city": "Las Vegas", "state": %q, "postalCode": "89123-1111", "country": "US", "residential": true},
		"items": [%v],
		"weight": {"value": 43.51, "units": "ounces", "WeightUnits": 1},
		"dimensions": {"length": 20, "width": 16, "height": 1.5, "units": "inches"},
		"shippingAmount": 4.99,
		"advancedOptions": {"storeId": %v, "warehouseId": %v, "source": "amazon", "customField1": "03/08/2024 18:00:00"}
	}`, total, total, state, items, storeID, warehouseID)
}

const singleItem = `{"orderItemId": 1, "sku": "F2BFpM-2024", "name": "Canvas", "quantity": 1, "unitPrice": 49.99, "warehouseLocation": "A1 | F2"}`

func TestDecode(t *testing.T) {

	cfg := testConfig()

	tt := []struct {
		name string
		json string
		err  string
		skip bool
	}{
		{name: "happy", json: orderJSON(165397, 486100, 59.99, "NV", singleItem)},
		{name: "bad store", json: orderJSON(165349, 486100, 59.99, "NV", singleItem), skip: true},
		{name: "bad warehouse", json: orderJSON(165397, 779978, 59.99, "NV", singleItem), skip: true},
		{name: "zero total", json: orderJSON(165397, 486100, 0, "NV", singleItem), skip: true},
		{name: "puerto rico", json: orderJSON(165397, 486100, 59.99, "PR", singleItem), skip: true},
		{name: "unknown warehouse", json: orderJSON(165397, 1, 59.99, "NV", singleItem), err: "no ship from location"},
		{name: "garbage", json: `{"orderId": "x"}`, err: "failed to decode order"},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {

			o, err := Decode([]byte(tc.json), "nuveau", cfg)

			if tc.skip {
				if !errors.Is(err, ErrSkip) {
					t.Fatalf("expected skip, got: %v", err)
				}
				return
			}
			if tc.err != "" {
				if err == nil || !strings.Contains(err.Error(), tc.err) {
					t.Fatalf("expected error %q, got: %v", tc.err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("could not decode order: %v", err)
			}

			if o.ID != 123456 || o.Key != "111-3451647-5934633" {
				t.Errorf("wrong identity: %v %v", o.ID, o.Key)
			}
			if o.Account != "nuveau" || o.WarehouseID != 486100 {
				t.Errorf("wrong account fields: %v %v", o.Account, o.WarehouseID)
			}
			if o.Shipment.FromWarehouse != "michigan" || o.Shipment.From.PostalCode != "49022" {
				t.Errorf("wrong ship from: %v %v", o.Shipment.FromWarehouse, o.Shipment.From)
			}
			if o.IsMulti || o.IsDouble {
				t.Errorf("single order flagged multi=%v double=%v", o.IsMulti, o.IsDouble)
			}
			want := time.Date(2024, 3, 8, 18, 0, 0, 0, time.UTC)
			if !o.DeliverBy.Equal(want) {
				t.Errorf("wrong deliver by: %v", o.DeliverBy)
			}
			if o.PackageCode != "package" {
				t.Errorf("wrong package code: %v", o.PackageCode)
			}
		})
	}
}

func TestDecodeFlags(t *testing.T) {

	cfg := testConfig()

	multi := `{"orderItemId": 1, "sku": "P1a", "quantity": 1, "warehouseLocation": "A1 | P1"},
		{"orderItemId": 2, "sku": "F2b", "quantity": 1, "warehouseLocation": "A2 | P1"}`
	double := `{"orderItemId": 1, "sku": "P1a", "quantity": 2, "warehouseLocation": "A1 | P1"}`
	adjusted := singleItem + `, {"orderItemId": 3, "sku": "discount", "quantity": 1, "adjustment": true}`

	o, err := Decode([]byte(orderJSON(165397, 486100, 59.99, "NV", multi)), "nuveau", cfg)
	if err != nil {
		t.Fatalf("could not decode multi order: %v", err)
	}
	if !o.IsMulti || o.IsDouble {
		t.Errorf("expected multi order, got multi=%v double=%v", o.IsMulti, o.IsDouble)
	}

	o, err = Decode([]byte(orderJSON(165397, 486100, 59.99, "NV", double)), "nuveau", cfg)
	if err != nil {
		t.Fatalf("could not decode double order: %v", err)
	}
	if o.IsMulti || !o.IsDouble {
		t.Errorf("expected double order, got multi=%v double=%v", o.IsMulti, o.IsDouble)
	}

	o, err = Decode([]byte(orderJSON(165397, 486100, 59.99, "NV", adjusted)), "nuveau", cfg)
	if err != nil {
		t.Fatalf("could not decode adjusted order: %v", err)
	}
	if len(o.Shipment.Items) != 1 {
		t.Errorf("adjustment line not filtered: %v items", len(o.Shipment.Items))
	}
}

func TestIsPOBox(t *testing.T) {
	o := &Order{}
	o.Customer.ShipTo.Street1 = "po box 123"
	if !o.IsPOBox() {
		t.Error("expected PO Box detection")
	}
	o.Customer.ShipTo.Street1 = "123 Main St"
	if o.IsPOBox() {
		t.Error("street address flagged as PO Box")
	}
}

func TestDestCountry(t *testing.T) {
	o := &Order{}
	for in, want := range map[string]string{"US": "US", "CA": "CA", "MX": "US", "": "US"} {
		o.Customer.ShipTo.Country = in
		if got := o.DestCountry(); got != want {
			t.Errorf("country %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestRateFor(t *testing.T) {
	o := &Order{Rates: map[string][]Service{
		"ups": {{Name: "UPS® Ground", Cost: 12.62}},
	}}
	if cost, ok := o.RateFor("ups", "UPS® Ground"); !ok || cost != 12.62 {
		t.Errorf("wrong rate: %v %v", cost, ok)
	}
	if _, ok := o.RateFor("ups", "UPS Next Day Air®"); ok {
		t.Error("unexpected rate for missing service")
	}
}
