package model

import "time"

// WeatherHour is one hourly weather observation or forecast.
// Nil fields were absent from the source.
type WeatherHour struct {
	Time          time.Time `json:"time"`
	Temperature   *float64  `json:"temperature_2m,omitempty"`
	Precipitation *float64  `json:"precipitation,omitempty"`
	Rain          *float64  `json:"rain,omitempty"`
	Showers       *float64  `json:"showers,omitempty"`
	Snowfall      *float64  `json:"snowfall,omitempty"`
	CloudCover    *float64  `json:"cloudcover,omitempty"`
	WindSpeed     *float64  `json:"windspeed_10m,omitempty"`
	Humidity      *float64  `json:"relative_humidity_2m,omitempty"`
	WeatherCode   *int      `json:"weathercode,omitempty"`
}
