package order

import (
	"fmt"
	"strings"

	"github.com/lentics/shipstation-automation/internal/config"
)

// SetDims works out the combined package dimensions for a multi or
// double order. Single orders carry their dimensions from ShipStation
// and never come through here. It returns false when any product in the
// order has no size mapping.
func (o *Order) SetDims(cfg *config.Config) (bool, error) {

	var boxes []config.Box
	var err error

	switch o.Account {
	case "nuveau":
		boxes, err = nuveauBoxes(o, cfg)
	case "lentics":
		boxes, err = lenticsBoxes(o, cfg)
	default:
		return false, fmt.Errorf("no dimension mapping for account %v", o.Account)
	}
	if err != nil {
		return false, err
	}

	for _, b := range boxes {
		if b == (config.Box{}) {
			return false, nil
		}
	}
	if len(boxes) == 0 {
		return false, nil
	}

	// ship everything in the widest box, stacked
	biggest := boxes[0]
	var height, ounces float64
	for _, b := range boxes {
		if b.Length+b.Width > biggest.Length+biggest.Width {
			biggest = b
		}
		height += b.Height
		ounces += b.Ounces
	}

	o.Shipment.Length = biggest.Length
	o.Shipment.Width = biggest.Width
	o.Shipment.Height = height
	o.Shipment.Weight = Weight{Value: ounces, Units: "ounces", WeightUnits: 1}

	return true, nil
}

// nuveauBoxes sizes every product by sku: the special Billy Bass and
// Fresh Stool lists first, then the two character sku prefix.
func nuveauBoxes(o *Order, cfg *config.Config) ([]config.Box, error) {

	mapping, ok := cfg.Boxes["nuveau"]
	if !ok {
		return nil, fmt.Errorf("no nuveau box mapping in config")
	}

	var boxes []config.Box
	for _, it := range o.Shipment.Items {
		switch {
		case contains(cfg.SKUs.BillyBass, it.SKU):
			for n := 0; n < it.Quantity; n++ {
				boxes = append(boxes, mapping["BB"])
			}
		case contains(cfg.SKUs.FreshStool, it.SKU):
			b := mapping["FS"]
			// the gel bundle adds a pound
			if strings.Contains(it.SKU, "+") {
				b.Ounces += 16
			}
			boxes = append(boxes, b)
		default:
			var b config.Box
			if len(it.SKU) >= 2 {
				b = mapping[it.SKU[:2]]
			}
			for n := 0; n < it.Quantity; n++ {
				boxes = append(boxes, b)
			}
		}
	}
	return boxes, nil
}

// lenticsBoxes sizes every product by the size code the warehouse
// injects into warehouseLocation: "ST | 2024" is a Stallion product,
// anything else is a Lentics one.
func lenticsBoxes(o *Order, cfg *config.Config) ([]config.Box, error) {

	var boxes []config.Box
	for _, it := range o.Shipment.Items {
		family := "lentics"
		if strings.HasPrefix(it.WarehouseLocation, "ST") {
			family = "stallion"
		}

		mapping, ok := cfg.Boxes[family]
		if !ok {
			return nil, fmt.Errorf("no %v box mapping in config", family)
		}

		code := sizeCode(it.WarehouseLocation)
		b := mapping[code]
		for n := 0; n < it.Quantity; n++ {
			boxes = append(boxes, b)
		}
	}
	return boxes, nil
}

// sizeCode extracts the size code after the pipe in a warehouse location.
func sizeCode(loc string) string {
	i := strings.Index(loc, "|")
	if i < 0 || i+2 > len(loc) {
		return ""
	}
	return strings.TrimSpace(loc[i+1:])
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
