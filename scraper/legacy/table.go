// Package legacy reads the portal's calendar list table. It is the fallback
// source when the pricing payload cannot be captured.
package legacy

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
)

// ErrNoTable reports markup without a recognisable calendar table.
var ErrNoTable = errors.New("legacy: no calendar table found")

// Row is one day of the calendar table. Percentages are 0-100 as displayed.
type Row struct {
	Date            time.Time
	CurrentPrice    decimal.NullDecimal
	SystemPrice     decimal.NullDecimal
	CompetitorAvg   decimal.NullDecimal
	OnBooks         *int
	OnBooksPercent  decimal.NullDecimal
	ForecastPercent decimal.NullDecimal
	LYPercent       decimal.NullDecimal
	ADR             decimal.NullDecimal
	STLYADR         decimal.NullDecimal
	Revenue         decimal.NullDecimal
	Arrivals        *int
	Departures      *int
	AvailableRooms  *int
}

type column int

const (
	colDate column = iota
	colCurrentPrice
	colSystemPrice
	colCompetitor
	colOnBooks
	colForecast
	colLY
	colADR
	colSTLYADR
	colRevenue
	colArrivals
	colDepartures
	colAvailable
)

// headers maps normalised header text to its column.
var headers = map[string]column{
	"date":                 colDate,
	"current price":        colCurrentPrice,
	"system price":         colSystemPrice,
	"competitor avg price": colCompetitor,
	"occ. on books":        colOnBooks,
	"occ. forecast":        colForecast,
	"occ. ly":              colLY,
	"adr":                  colADR,
	"stly adr":             colSTLYADR,
	"revenue":              colRevenue,
	"arrivals":             colArrivals,
	"departures":           colDepartures,
	"available rooms":      colAvailable,
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"Mon 01/02/2006",
	"Mon, 01/02/2006",
	"Jan 2, 2006",
	"Mon, Jan 2, 2006",
	"Mon Jan 2, 2006",
	"02-Jan-2006",
}

// "45 (67.5%)": rooms on the books and the share of capacity.
var onBooksRe = regexp.MustCompile(`^\s*(-?\d+)\s*\(\s*(-?[\d.]+)\s*%\s*\)\s*$`)

// Parse reads the first table in html whose header has a Date column.
// Rows with an unreadable date are skipped and reported in skipped.
func Parse(html string) (rows []Row, skipped []string, err error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("legacy: parse html: %w", err)
	}

	found := false
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		index := headerIndex(table)
		if _, ok := index[colDate]; !ok {
			return true
		}
		found = true

		table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			var cells []string
			tr.Find("td").Each(func(_ int, td *goquery.Selection) {
				cells = append(cells, strings.TrimSpace(td.Text()))
			})
			if len(cells) == 0 {
				return
			}
			row, ok := parseRow(index, cells)
			if !ok {
				skipped = append(skipped, strings.Join(cells, " | "))
				return
			}
			rows = append(rows, row)
		})
		return false
	})

	if !found {
		return nil, nil, ErrNoTable
	}
	return rows, skipped, nil
}

func headerIndex(table *goquery.Selection) map[column]int {
	index := make(map[column]int)
	table.Find("thead th, thead td").Each(func(i int, th *goquery.Selection) {
		name := strings.ToLower(strings.Join(strings.Fields(th.Text()), " "))
		if col, ok := headers[name]; ok {
			index[col] = i
		}
	})
	return index
}

func parseRow(index map[column]int, cells []string) (Row, bool) {
	cell := func(c column) string {
		i, ok := index[c]
		if !ok || i >= len(cells) {
			return ""
		}
		return cells[i]
	}

	date, ok := parseDate(cell(colDate))
	if !ok {
		return Row{}, false
	}

	r := Row{
		Date:            date,
		CurrentPrice:    parseNumber(cell(colCurrentPrice)),
		SystemPrice:     parseNumber(cell(colSystemPrice)),
		CompetitorAvg:   parseNumber(cell(colCompetitor)),
		ForecastPercent: parseNumber(cell(colForecast)),
		LYPercent:       parseNumber(cell(colLY)),
		ADR:             parseNumber(cell(colADR)),
		STLYADR:         parseNumber(cell(colSTLYADR)),
		Revenue:         parseNumber(cell(colRevenue)),
		Arrivals:        parseInt(cell(colArrivals)),
		Departures:      parseInt(cell(colDepartures)),
		AvailableRooms:  parseInt(cell(colAvailable)),
	}

	onBooks := cell(colOnBooks)
	if m := onBooksRe.FindStringSubmatch(onBooks); m != nil {
		r.OnBooks = parseInt(m[1])
		r.OnBooksPercent = parseNumber(m[2])
	} else {
		r.OnBooks = parseInt(onBooks)
	}
	return r, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.Join(strings.Fields(s), " ")
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// parseNumber reads "$1,234.50" or "67.5%" style cells; blanks and dashes are null.
func parseNumber(s string) decimal.NullDecimal {
	s = strings.NewReplacer("$", "", ",", "", "%", "", " ", "").Replace(strings.TrimSpace(s))
	if s == "" || s == "-" || s == "—" || strings.EqualFold(s, "n/a") {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

func parseInt(s string) *int {
	d := parseNumber(s)
	if !d.Valid || !d.Decimal.IsInteger() {
		return nil
	}
	n, err := strconv.Atoi(d.Decimal.String())
	if err != nil {
		return nil
	}
	return &n
}
