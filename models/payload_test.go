package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParsePayloadValid(t *testing.T) {
	body := []byte(`[{"id":"2e38cbf4-9693-486b-8d5a-54fb62e91a52","dates":[
		{"date":"2026-02-10","price":{"value":85.5},"previousRate":null,"onBookPercent":20,
		 "lyAdr":null,"physicalCapacity":100,"outOfOrder":5,"onBook":80,"priceOverridden":true}]}]`)

	payload, err := ParsePayload(body)
	require.NoError(t, err)
	require.Len(t, payload, 1)
	require.Equal(t, 1, payload.EntryCount())

	e, err := DecodeDateEntry(payload[0].Dates[0])
	require.NoError(t, err)
	require.Equal(t, "2026-02-10", e.Date)
	require.NotNil(t, e.Price)
	require.Equal(t, "85.5", e.Price.Value.Decimal.String())
	require.Nil(t, e.PreviousRate)
	require.True(t, e.OnBookPercent.Valid)
	require.False(t, e.LYAdr.Valid)
	require.False(t, e.ForecastPercent.Valid)
	require.Equal(t, 100, *e.PhysicalCapacity)
	require.Nil(t, e.Arrivals)
	require.True(t, e.PriceOverridden)
}

func TestParsePayloadKeepsMalformedEntries(t *testing.T) {
	body := []byte(`[{"id":"p1","dates":[
		{"date":"2026-06-01","price":{"value":90},"arrivals":3},
		{"date":"2026-06-02","arrivals":3.5},
		{"date":20260603}]}]`)

	payload, err := ParsePayload(body)
	require.NoError(t, err)
	require.Equal(t, 3, payload.EntryCount())

	good, err := DecodeDateEntry(payload[0].Dates[0])
	require.NoError(t, err)
	require.Equal(t, 3, *good.Arrivals)

	_, err = DecodeDateEntry(payload[0].Dates[1])
	require.Error(t, err)
	_, err = DecodeDateEntry(payload[0].Dates[2])
	require.Error(t, err)
}

func TestParsePayloadRejectsWrongShape(t *testing.T) {
	cases := map[string]string{
		"object":      `{"id":"x","dates":[]}`,
		"empty":       `[]`,
		"no dates":    `[{"id":"x"}]`,
		"dates null":  `[{"id":"x","dates":null}]`,
		"no id":       `[{"dates":[]}]`,
		"not json":    `<html></html>`,
		"scalar list": `[1,2,3]`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePayload([]byte(body))
			require.ErrorIs(t, err, ErrPayloadShape)
		})
	}
}

func TestDateRange(t *testing.T) {
	start := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	r := NewDateRange(start, 30)

	require.Equal(t, 30, r.Days())
	require.Equal(t, "2026-02-13", r.End.Format(DateLayout))
	require.True(t, r.Contains(start))
	require.True(t, r.Contains(r.End))
	require.False(t, r.Contains(start.AddDate(0, 0, -1)))
	require.False(t, r.Contains(r.End.AddDate(0, 0, 1)))
}

func TestRunStatusTerminal(t *testing.T) {
	require.False(t, RunRunning.Terminal())
	require.True(t, RunCompleted.Terminal())
	require.True(t, RunFailed.Terminal())
}
