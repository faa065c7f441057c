package storage

import "rms-pricing-scraper/models"

// RecordWriter is the interface for local copies of mapped pricing records.
type RecordWriter interface {
	WriteRecords(records []*models.PricingRecord) error
	Close() error
}

// PayloadWriter is the interface for keeping the raw captured payload.
type PayloadWriter interface {
	WritePayload(body []byte) error
}

var (
	_ RecordWriter  = (*CSVWriter)(nil)
	_ PayloadWriter = (*PayloadFile)(nil)
)
