package pvforecast

import (
	"testing"
	"time"

	"github.com/devskill-org/energy-management-system/meteo"
)

func forecastWithCloudAndSymbol(at time.Time, cloudPct float64, symbol meteo.WeatherSymbol, tempC float64) *meteo.METJSONForecast {
	return &meteo.METJSONForecast{
		Properties: &meteo.Forecast{
			Timeseries: []meteo.ForecastTimeStep{
				{
					Time: at,
					Data: &meteo.ForecastTimeStepData{
						Instant: &meteo.ForecastInstantData{
							Details: &meteo.ForecastTimeInstant{
								CloudAreaFraction: meteo.Float64Ptr(cloudPct),
								AirTemperature:    meteo.Float64Ptr(tempC),
							},
						},
						Next1Hours: &meteo.ForecastPeriodData{
							Summary: &meteo.ForecastSummary{SymbolCode: symbol},
						},
					},
				},
			},
		},
	}
}

func TestEstimateSolarPowerAtZeroAtNight(t *testing.T) {
	// Stockholm, midnight UTC in January: well before sunrise.
	midnight := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	f := forecastWithCloudAndSymbol(midnight, 10, meteo.ClearSkyNight, -5)

	kw, tempC, known := estimateSolarPowerAt(f, midnight, 8.0, 59.3293, 18.0686, nil)
	if kw != 0 {
		t.Errorf("expected zero PV power at night, got %v", kw)
	}
	if !known || tempC != -5 {
		t.Errorf("expected temperature -5 to be known, got %v known=%v", tempC, known)
	}
}

func TestEstimateSolarPowerAtZeroWithSnow(t *testing.T) {
	noon := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f := forecastWithCloudAndSymbol(noon, 20, meteo.Snow, 2)

	kw, _, _ := estimateSolarPowerAt(f, noon, 8.0, 59.3293, 18.0686, nil)
	if kw != 0 {
		t.Errorf("expected zero PV power under snow conditions, got %v", kw)
	}
}

func TestEstimateSolarPowerAtReducedByClouds(t *testing.T) {
	noon := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	clear := forecastWithCloudAndSymbol(noon, 0, meteo.ClearSkyDay, 20)
	cloudy := forecastWithCloudAndSymbol(noon, 100, meteo.ClearSkyDay, 20)

	clearKw, _, _ := estimateSolarPowerAt(clear, noon, 8.0, 59.3293, 18.0686, nil)
	cloudyKw, _, _ := estimateSolarPowerAt(cloudy, noon, 8.0, 59.3293, 18.0686, nil)

	if clearKw <= 0 {
		t.Fatalf("expected positive PV power at midday under clear sky, got %v", clearKw)
	}
	if cloudyKw >= clearKw {
		t.Errorf("expected full overcast to reduce PV power below clear-sky, got clear=%v cloudy=%v", clearKw, cloudyKw)
	}
}

func TestEstimateSolarPowerAtNilForecast(t *testing.T) {
	kw, _, known := estimateSolarPowerAt(nil, time.Now(), 8.0, 59.3293, 18.0686, nil)
	if kw != 0 || known {
		t.Errorf("expected zero/unknown result for nil forecast, got kw=%v known=%v", kw, known)
	}
}
