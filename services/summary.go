package services

import (
	"fmt"
	"io"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"rms-pricing-scraper/models"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/utils"
)

// RunOutcome is what happened to one credential group (or one import).
type RunOutcome struct {
	PlatformID   int64
	PlatformName string
	RunID        int64
	Status       models.RunStatus

	Inserted        int
	Updated         int
	PersistFailures int
	MappingSkips    int
	OutOfRange      int
	UnknownProperty int

	Records []*models.PricingRecord
	Err     error
}

// Saved is inserted plus updated.
func (o *RunOutcome) Saved() int { return o.Inserted + o.Updated }

// PropertyPrices summarises the standard prices saved for one property.
type PropertyPrices struct {
	PropertyUUID string
	Dates        int
	Min          decimal.Decimal
	Max          decimal.Decimal
	Average      decimal.Decimal
	FirstDate    string
	LastDate     string
}

// RunSummary aggregates outcomes of a scrape or import.
type RunSummary struct {
	Runs       int
	Successful int
	Failed     int
	Inserted   int
	Updated    int
	Skipped    int
	Properties []PropertyPrices
	Outcomes   []*RunOutcome
}

type SummaryService struct {
	logger *utils.Logger
}

func NewSummaryService(logger *utils.Logger) *SummaryService {
	return &SummaryService{logger: logger}
}

func (s *SummaryService) Generate(outcomes []*RunOutcome) *RunSummary {
	sum := &RunSummary{}
	byProperty := make(map[string][]*models.PricingRecord)

	for _, o := range outcomes {
		if o == nil {
			continue
		}
		sum.Outcomes = append(sum.Outcomes, o)
		sum.Runs++
		if o.Status == models.RunCompleted {
			sum.Successful++
		} else {
			sum.Failed++
		}
		sum.Inserted += o.Inserted
		sum.Updated += o.Updated
		sum.Skipped += o.MappingSkips + o.OutOfRange + o.UnknownProperty + o.PersistFailures

		for _, r := range o.Records {
			byProperty[r.PropertyUUID] = append(byProperty[r.PropertyUUID], r)
		}
	}

	for id, records := range byProperty {
		if p, ok := priceStats(id, records); ok {
			sum.Properties = append(sum.Properties, p)
		}
	}
	sort.Slice(sum.Properties, func(i, j int) bool {
		return sum.Properties[i].PropertyUUID < sum.Properties[j].PropertyUUID
	})
	return sum
}

// priceStats only counts dates with a standard price.
func priceStats(id string, records []*models.PricingRecord) (PropertyPrices, bool) {
	p := PropertyPrices{PropertyUUID: id}
	total := decimal.Zero
	for _, r := range records {
		if !r.StandardPrice.Valid {
			continue
		}
		price := r.StandardPrice.Decimal
		if p.Dates == 0 || price.LessThan(p.Min) {
			p.Min = price
		}
		if p.Dates == 0 || price.GreaterThan(p.Max) {
			p.Max = price
		}
		day := r.DateKey()
		if p.Dates == 0 || day < p.FirstDate {
			p.FirstDate = day
		}
		if p.Dates == 0 || day > p.LastDate {
			p.LastDate = day
		}
		total = total.Add(price)
		p.Dates++
	}
	if p.Dates == 0 {
		return p, false
	}
	p.Average = total.Div(decimal.NewFromInt(int64(p.Dates))).Round(2)
	return p, true
}

func (s *SummaryService) Print(w io.Writer, sum *RunSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Scraping runs")
	t.AppendHeader(table.Row{"Platform", "Run", "Status", "New", "Updated", "Skipped", "Error"})
	for _, o := range sum.Outcomes {
		errMsg := ""
		if o.Err != nil {
			errMsg = truncate(o.Err.Error(), 60)
		}
		t.AppendRow(table.Row{o.PlatformName, o.RunID, o.Status, o.Inserted, o.Updated,
			o.MappingSkips + o.OutOfRange + o.UnknownProperty + o.PersistFailures, errMsg})
	}
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d runs", sum.Runs),
		"",
		fmt.Sprintf("%d ok / %d failed", sum.Successful, sum.Failed),
		sum.Inserted, sum.Updated, sum.Skipped, "",
	})
	t.SetStyle(table.StyleRounded)
	t.Render()

	if len(sum.Properties) == 0 {
		fmt.Fprintln(w, "No price data saved")
		return
	}

	pt := table.NewWriter()
	pt.SetOutputMirror(w)
	pt.SetTitle("Standard price per property")
	pt.AppendHeader(table.Row{"Property", "Dates", "From", "To", "Min", "Avg", "Max"})
	for _, p := range sum.Properties {
		pt.AppendRow(table.Row{p.PropertyUUID, p.Dates, p.FirstDate, p.LastDate,
			p.Min.StringFixed(2), p.Average.StringFixed(2), p.Max.StringFixed(2)})
	}
	pt.SetStyle(table.StyleRounded)
	pt.Render()
}

// PrintStatistics renders the store-wide counters.
func (s *SummaryService) PrintStatistics(w io.Writer, st *storage.Statistics) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Database statistics")
	t.AppendRows([]table.Row{
		{"Properties", st.TotalProperties},
		{"Platforms", fmt.Sprintf("%d (%d active)", st.TotalPlatforms, st.ActivePlatforms)},
		{"Runs", fmt.Sprintf("%d (%d completed, %d failed)", st.TotalRuns, st.SuccessfulRuns, st.FailedRuns)},
		{"Pricing records", st.TotalRecords},
	})
	if st.LastRunStarted != "" {
		t.AppendRow(table.Row{"Last run", fmt.Sprintf("%s (%s)", st.LastRunStarted, st.LastRunStatus)})
	} else {
		t.AppendRow(table.Row{"Last run", "never"})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
