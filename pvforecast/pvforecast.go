// Package pvforecast wraps the meteo weather client and suncalc sun
// geometry to estimate PV generation over the planning horizon.
package pvforecast

import (
	"fmt"
	"log"
	"math"
	"time"

	"github.com/sixdouglas/suncalc"

	"github.com/devskill-org/energy-management-system/config"
	"github.com/devskill-org/energy-management-system/meteo"
	"github.com/devskill-org/energy-management-system/timegrid"
)

// Estimator produces a cloud-cover-adjusted clear-sky PV estimate for each
// slot of the planning horizon.
type Estimator struct {
	client *meteo.Client
	cfg    *config.Config
	logger *log.Logger

	cache      *meteo.METJSONForecast
	cachedAt   time.Time
	cacheValid time.Duration
}

func NewEstimator(cfg *config.Config, logger *log.Logger) *Estimator {
	return &Estimator{
		client:     meteo.NewClient(cfg.WeatherUserAgent),
		cfg:        cfg,
		logger:     logger,
		cacheValid: cfg.WeatherUpdateInterval,
	}
}

func (e *Estimator) forecast() (*meteo.METJSONForecast, error) {
	if e.cache != nil && time.Since(e.cachedAt) < e.cacheValid {
		return e.cache, nil
	}

	params := meteo.QueryParams{Location: meteo.Location{Latitude: e.cfg.Latitude, Longitude: e.cfg.Longitude}}
	forecast, err := e.client.GetCompact(params)
	if err != nil {
		return nil, fmt.Errorf("pvforecast: failed to fetch weather forecast: %w", err)
	}
	e.cache = forecast
	e.cachedAt = time.Now()
	return forecast, nil
}

// EstimateSeries returns a RawSeries of forecast PV yield in kWh per slot,
// plus a RawSeries of the associated forecast air temperature in Celsius,
// for every slot start in slots (temperature only where it is known).
func (e *Estimator) EstimateSeries(slots []time.Time, deltaMinutes int) (pv timegrid.RawSeries, temp timegrid.RawSeries, err error) {
	f, err := e.forecast()
	if err != nil {
		return nil, nil, err
	}

	hours := float64(deltaMinutes) / 60.0
	for _, t := range slots {
		kw, tempC, tempKnown := estimateSolarPowerAt(f, t, e.cfg.PVPeakPowerKw, e.cfg.Latitude, e.cfg.Longitude, e.logger)
		pv = append(pv, timegrid.SeriesPoint{At: t, Value: kw * hours})
		if tempKnown {
			temp = append(temp, timegrid.SeriesPoint{At: t, Value: tempC})
		}
	}
	return pv, temp, nil
}

// estimateSolarPowerAt estimates instantaneous PV power in kW at t by
// combining suncalc's solar altitude with the forecast cloud cover closest
// to t. Snow conditions zero the estimate outright.
func estimateSolarPowerAt(forecast *meteo.METJSONForecast, t time.Time, peakPowerKw, lat, lon float64, logger *log.Logger) (kw float64, tempC float64, tempKnown bool) {
	if forecast == nil || forecast.Properties == nil || len(forecast.Properties.Timeseries) == 0 {
		return 0, 0, false
	}

	step := forecast.GetWeatherAtTime(t)
	if step == nil || step.Data == nil || step.Data.Instant == nil || step.Data.Instant.Details == nil {
		return 0, 0, false
	}
	details := step.Data.Instant.Details

	if details.AirTemperature != nil {
		tempC = *details.AirTemperature
		tempKnown = true
	}

	sunTimes := suncalc.GetTimes(t, lat, lon)
	sunrise := sunTimes["sunrise"].Value
	sunset := sunTimes["sunset"].Value
	if t.Before(sunrise) || t.After(sunset) {
		return 0, tempC, tempKnown
	}

	pos := suncalc.GetPosition(t, lat, lon)
	solarAngleFactor := math.Sin(pos.Altitude)
	if solarAngleFactor < 0 {
		return 0, tempC, tempKnown
	}

	if symbol := step.GetSymbolCode(); symbol != nil && symbol.HasSnow() {
		if logger != nil {
			logger.Printf("[PVFORECAST] snow in forecast at %s, estimating zero PV", t.Format(time.RFC3339))
		}
		return 0, tempC, tempKnown
	}

	cloudFactor := 1.0
	if details.CloudAreaFraction != nil {
		cloudFraction := *details.CloudAreaFraction / 100.0
		cloudFactor = 1.0 - (cloudFraction * 0.90)
	}

	return peakPowerKw * solarAngleFactor * cloudFactor, tempC, tempKnown
}
