package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the calendar-date format used by portal payloads and the store.
const DateLayout = "2006-01-02"

// PricingRecord is the canonical per-property, per-date pricing snapshot.
// It is unique on (PropertyID, RecordDate); a later upsert overwrites it.
// Fractions (occupancy) are stored in [0,1]. Missing inputs stay null.
type PricingRecord struct {
	PropertyID   int64
	PropertyUUID string
	RunID        *int64

	RecordDate      time.Time
	RecordTimestamp time.Time

	StandardPrice         decimal.NullDecimal
	AlgoOutputPrice       decimal.NullDecimal
	StandardPreviousPrice decimal.NullDecimal
	StandardPriceChange   decimal.NullDecimal
	CompetitorSetAvgPrice decimal.NullDecimal

	Occupancy           decimal.NullDecimal
	ForecastedOccupancy decimal.NullDecimal
	OnTheBooksOcc       decimal.NullDecimal
	LYOccupancy         decimal.NullDecimal

	ADR            decimal.NullDecimal
	LYADR          decimal.NullDecimal
	Revenue        decimal.NullDecimal
	LYRevenue      decimal.NullDecimal
	RevenuePerRoom decimal.NullDecimal

	TotalRooms     *int
	OutOfOrder     *int
	OnTheBooks     *int
	AvailableRooms *int

	ArrivalsForecast  *int
	DepartureForecast *int

	UpdatedByRM bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DayOfWeek is derived from RecordDate and never tracked separately.
func (r *PricingRecord) DayOfWeek() string {
	return r.RecordDate.Weekday().String()
}

// DateKey returns the record date in DateLayout.
func (r *PricingRecord) DateKey() string {
	return r.RecordDate.Format(DateLayout)
}

// HistoricalSnapshot is last year's closed-out performance for one property
// and date. The pipeline only reads these.
type HistoricalSnapshot struct {
	PropertyID int64
	Date       time.Time
	Occupancy  decimal.NullDecimal
	ADR        decimal.NullDecimal
	Revenue    decimal.NullDecimal
}

// DateRange is an inclusive calendar window.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// NewDateRange builds the window [start, start+days-1].
func NewDateRange(start time.Time, days int) DateRange {
	if days < 1 {
		days = 1
	}
	return DateRange{Start: start, End: start.AddDate(0, 0, days-1)}
}

// Days returns the number of calendar days covered.
func (d DateRange) Days() int {
	return int(d.End.Sub(d.Start).Hours()/24) + 1
}

// Contains reports whether t falls inside the window (date precision).
func (d DateRange) Contains(t time.Time) bool {
	day := t.Format(DateLayout)
	return day >= d.Start.Format(DateLayout) && day <= d.End.Format(DateLayout)
}
