package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/scraper/legacy"
	"rms-pricing-scraper/utils"
)

var (
	hundred = decimal.NewFromInt(100)
	oneCent = decimal.New(1, -2)
)

// MappingError reports a date entry that cannot become a record.
type MappingError struct {
	PropertyUUID string
	Date         string
	Err          error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("mapping %s date %q: %v", e.PropertyUUID, e.Date, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// RecordMapper turns raw portal entries into PricingRecords.
type RecordMapper struct {
	logger *utils.Logger
	now    func() time.Time
}

// NewRecordMapper creates a RecordMapper with the given logger.
func NewRecordMapper(logger *utils.Logger) *RecordMapper {
	return &RecordMapper{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// MapRaw decodes one undecoded date entry and maps it. An entry that does not
// decode is reported as a *MappingError.
func (m *RecordMapper) MapRaw(propertyUUID string, raw json.RawMessage) (*models.PricingRecord, error) {
	e, err := models.DecodeDateEntry(raw)
	if err != nil {
		return nil, &MappingError{PropertyUUID: propertyUUID, Date: rawEntryDate(raw), Err: err}
	}
	return m.Map(propertyUUID, e)
}

// rawEntryDate pulls the "date" member out of an entry that failed to decode,
// for error messages only.
func rawEntryDate(raw json.RawMessage) string {
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return ""
	}
	return strings.Trim(string(fields["date"]), `"`)
}

// Map converts one payload date entry. Only a missing or unparsable date is
// an error; every other absent input becomes a null field.
func (m *RecordMapper) Map(propertyUUID string, e models.RawDateEntry) (*models.PricingRecord, error) {
	raw := strings.TrimSpace(e.Date)
	if raw == "" {
		return nil, &MappingError{PropertyUUID: propertyUUID, Err: fmt.Errorf("missing date")}
	}
	date, err := time.Parse(models.DateLayout, raw)
	if err != nil {
		return nil, &MappingError{PropertyUUID: propertyUUID, Date: raw, Err: err}
	}

	onBook := PercentToFraction(e.OnBookPercent)
	lyOcc := PercentToFraction(e.LYBookingPercent)
	lyRevenue := moneyValue(e.LYRevenue)

	r := &models.PricingRecord{
		PropertyUUID:    propertyUUID,
		RecordDate:      date,
		RecordTimestamp: m.now(),

		StandardPrice:         moneyValue(e.Price),
		StandardPreviousPrice: moneyValue(e.PreviousRate),
		StandardPriceChange:   moneyValue(e.PriceDiff),
		CompetitorSetAvgPrice: moneyValue(e.CompSetAvg),

		Occupancy:           onBook,
		OnTheBooksOcc:       onBook,
		ForecastedOccupancy: PercentToFraction(e.ForecastPercent),
		LYOccupancy:         lyOcc,
		LYRevenue:           lyRevenue,

		TotalRooms:     e.PhysicalCapacity,
		OutOfOrder:     e.OutOfOrder,
		OnTheBooks:     e.OnBook,
		AvailableRooms: AvailableRooms(e.PhysicalCapacity, e.OutOfOrder, e.OnBook),

		ArrivalsForecast:  e.Arrivals,
		DepartureForecast: e.Departures,
		UpdatedByRM:       e.PriceOverridden,
	}

	derived := DeriveLYADR(lyRevenue, lyOcc, e.PhysicalCapacity)
	switch {
	case e.LYAdr.Valid:
		r.LYADR = decimal.NewNullDecimal(e.LYAdr.Decimal.Round(2))
		if derived.Valid && r.LYADR.Decimal.Sub(derived.Decimal).Abs().GreaterThan(oneCent) {
			m.logger.Warn("[mapper] %s %s: payload ly_adr %s differs from revenue-derived %s, keeping payload value",
				propertyUUID, raw, r.LYADR.Decimal.StringFixed(2), derived.Decimal.StringFixed(2))
		}
	case derived.Valid:
		r.LYADR = derived
	}

	return r, nil
}

// MapLegacy converts a calendar table row. The table shows ADR, revenue and
// the system price, which the payload does not carry.
func (m *RecordMapper) MapLegacy(propertyUUID string, row legacy.Row) *models.PricingRecord {
	onBook := PercentToFraction(row.OnBooksPercent)
	return &models.PricingRecord{
		PropertyUUID:    propertyUUID,
		RecordDate:      row.Date,
		RecordTimestamp: m.now(),

		StandardPrice:         row.CurrentPrice,
		AlgoOutputPrice:       row.SystemPrice,
		CompetitorSetAvgPrice: row.CompetitorAvg,

		Occupancy:           onBook,
		OnTheBooksOcc:       onBook,
		ForecastedOccupancy: PercentToFraction(row.ForecastPercent),
		LYOccupancy:         PercentToFraction(row.LYPercent),

		ADR:     row.ADR,
		LYADR:   row.STLYADR,
		Revenue: row.Revenue,

		OnTheBooks:        row.OnBooks,
		AvailableRooms:    row.AvailableRooms,
		ArrivalsForecast:  row.Arrivals,
		DepartureForecast: row.Departures,
	}
}

// PercentToFraction turns a 0-100 percentage into a fraction; null stays null.
func PercentToFraction(p decimal.NullDecimal) decimal.NullDecimal {
	if !p.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(p.Decimal.Div(hundred))
}

// AvailableRooms is total - out of order - on the books, or nil unless all
// three are known.
func AvailableRooms(total, outOfOrder, onBooks *int) *int {
	if total == nil || outOfOrder == nil || onBooks == nil {
		return nil
	}
	n := *total - *outOfOrder - *onBooks
	return &n
}

// DeriveLYADR is ly_revenue / (ly_occupancy * total_rooms), rounded to
// cents, or null when an operand is missing or the room count is zero.
func DeriveLYADR(lyRevenue, lyOccupancy decimal.NullDecimal, totalRooms *int) decimal.NullDecimal {
	if !lyRevenue.Valid || !lyOccupancy.Valid || totalRooms == nil {
		return decimal.NullDecimal{}
	}
	rooms := lyOccupancy.Decimal.Mul(decimal.NewFromInt(int64(*totalRooms)))
	if !rooms.IsPositive() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(lyRevenue.Decimal.Div(rooms).Round(2))
}

func moneyValue(m *models.Money) decimal.NullDecimal {
	if m == nil {
		return decimal.NullDecimal{}
	}
	return m.Value
}
