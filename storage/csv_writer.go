package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
)

var csvHeader = []string{
	"property_uuid", "record_date", "day_of_week",
	"standard_price", "algo_output_price", "standard_previous_price", "standard_price_change",
	"competitor_set_avg_price",
	"occupancy", "forecasted_occupancy", "ly_occupancy",
	"adr", "ly_adr", "revenue", "ly_revenue", "revenue_per_room",
	"total_rooms", "ooo", "otb_rooms", "avl_rooms",
	"arrivals_forecast", "departure_forecast", "updated_by_rm", "record_timestamp",
}

// CSVWriter appends mapped pricing records to a local CSV backup.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens the CSV file at path for appending and writes the header
// row when the file is new. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteRecords appends one row per record.
func (c *CSVWriter) WriteRecords(records []*models.PricingRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		row := []string{
			r.PropertyUUID, r.DateKey(), r.DayOfWeek(),
			decimalCell(r.StandardPrice), decimalCell(r.AlgoOutputPrice),
			decimalCell(r.StandardPreviousPrice), decimalCell(r.StandardPriceChange),
			decimalCell(r.CompetitorSetAvgPrice),
			decimalCell(r.Occupancy), decimalCell(r.ForecastedOccupancy), decimalCell(r.LYOccupancy),
			decimalCell(r.ADR), decimalCell(r.LYADR), decimalCell(r.Revenue),
			decimalCell(r.LYRevenue), decimalCell(r.RevenuePerRoom),
			intCell(r.TotalRooms), intCell(r.OutOfOrder), intCell(r.OnTheBooks), intCell(r.AvailableRooms),
			intCell(r.ArrivalsForecast), intCell(r.DepartureForecast),
			strconv.FormatBool(r.UpdatedByRM),
			r.RecordTimestamp.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

func decimalCell(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.String()
}

func intCell(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
