package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Payload is the portal's internal pricing response: one entry per property.
type Payload []RawProperty

// RawProperty is one property object of the captured payload. Dates stay
// undecoded so one malformed entry cannot reject its neighbours.
type RawProperty struct {
	ID    string            `json:"id"`
	Dates []json.RawMessage `json:"dates"`
}

// Money is the portal's {"value": n} wrapper around monetary amounts.
// {"value": null} stays null.
type Money struct {
	Value decimal.NullDecimal `json:"value"`
}

// RawDateEntry mirrors one element of a property's "dates" array.
// Pointer and Null types keep "absent" distinct from zero.
type RawDateEntry struct {
	Date             string              `json:"date"`
	Price            *Money              `json:"price"`
	PreviousRate     *Money              `json:"previousRate"`
	PriceDiff        *Money              `json:"priceDiff"`
	CompSetAvg       *Money              `json:"compSetAvg"`
	OnBookPercent    decimal.NullDecimal `json:"onBookPercent"`
	ForecastPercent  decimal.NullDecimal `json:"forecastPercent"`
	LYBookingPercent decimal.NullDecimal `json:"lyBookingPercent"`
	LYAdr            decimal.NullDecimal `json:"lyAdr"`
	LYRevenue        *Money              `json:"lyRevenue"`
	Arrivals         *int                `json:"arrivals"`
	Departures       *int                `json:"departures"`
	PhysicalCapacity *int                `json:"physicalCapacity"`
	OutOfOrder       *int                `json:"outOfOrder"`
	OnBook           *int                `json:"onBook"`
	PriceOverridden  bool                `json:"priceOverridden"`
}

// ErrPayloadShape reports a JSON document that is not the pricing payload.
var ErrPayloadShape = errors.New("payload: unexpected shape")

// ParsePayload decodes body and checks its structure: a non-empty array of
// objects, each carrying an "id" and a "dates" array.
func ParsePayload(body []byte) (Payload, error) {
	var shape []map[string]json.RawMessage
	if err := json.Unmarshal(body, &shape); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
	}
	if len(shape) == 0 {
		return nil, fmt.Errorf("%w: empty array", ErrPayloadShape)
	}
	for i, obj := range shape {
		if _, ok := obj["id"]; !ok {
			return nil, fmt.Errorf("%w: element %d has no id", ErrPayloadShape, i)
		}
		dates, ok := obj["dates"]
		if !ok || len(dates) == 0 || dates[0] != '[' {
			return nil, fmt.Errorf("%w: element %d has no dates array", ErrPayloadShape, i)
		}
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPayloadShape, err)
	}
	return payload, nil
}

// DecodeDateEntry decodes one element of a property's "dates" array.
func DecodeDateEntry(raw json.RawMessage) (RawDateEntry, error) {
	var e RawDateEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return RawDateEntry{}, err
	}
	return e, nil
}

// EntryCount returns the total number of date entries across properties.
func (p Payload) EntryCount() int {
	n := 0
	for _, prop := range p {
		n += len(prop.Dates)
	}
	return n
}
