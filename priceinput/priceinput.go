// Package priceinput wraps the entsoe client to fetch day-ahead spot
// prices and align them onto the canonical planning grid built by
// timegrid.
package priceinput

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/entsoe"
	"github.com/devskill-org/energy-management-system/timegrid"
)

// Fetcher retrieves day-ahead prices for the planning horizon.
type Fetcher struct {
	cfg    *config.Config
	logger *log.Logger
}

func NewFetcher(cfg *config.Config, logger *log.Logger) *Fetcher {
	return &Fetcher{cfg: cfg, logger: logger}
}

// FetchImportPrices downloads the published day-ahead market document for
// the current local day in loc (and the next day from 13:00 local time)
// and returns a RawSeries of import prices keyed by slot start. anchorDate
// only labels the log line; it does not choose the day downloaded. Slots with
// no published point are simply absent from the series; BuildInputSlots
// leaves those InputSlots with PriceKnown=false, per the missing-prices
// rule.
func (f *Fetcher) FetchImportPrices(ctx context.Context, anchorDate time.Time, loc *time.Location) (timegrid.RawSeries, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.EntsoeAPITimeout)
	defer cancel()

	doc, err := entsoe.DownloadPublicationMarketData(ctx, f.cfg.EntsoeSecurityToken, f.cfg.EntsoeURLFormat, loc)
	if err != nil {
		return nil, fmt.Errorf("priceinput: failed to download day-ahead prices: %w", err)
	}

	series := documentToSeries(doc)
	if f.logger != nil {
		f.logger.Printf("[PRICEINPUT] fetched %d published price points for %s", len(series), anchorDate.Format("2006-01-02"))
	}
	return series, nil
}

// documentToSeries flattens every TimeSeries/Period/Point in doc into a
// single RawSeries, resolving each point's position to an absolute instant
// via the period's own time interval and resolution.
func documentToSeries(doc *entsoe.PublicationMarketData) timegrid.RawSeries {
	var out timegrid.RawSeries
	if doc == nil {
		return out
	}
	for _, ts := range doc.TimeSeries {
		for _, pt := range ts.Period.Points {
			start, _, valid := ts.Period.GetTimeRangeForPosition(pt.Position)
			if !valid {
				continue
			}
			out = append(out, timegrid.SeriesPoint{At: start, Value: pt.PriceAmount})
		}
	}
	return out
}
