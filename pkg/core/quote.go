package core

import (
	"strconv"
)

// Coordinate is a (latitude, longitude) pair. No range validation is done here.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// String renders "lat,lng" using the shortest exact decimal form.
func (c Coordinate) String() string {
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// RideQuote is one ride option harvested from an app.
type RideQuote struct {
	VehicleType   string  `json:"vehicle_type"`
	PriceEstimate float64 `json:"price_estimate"`
	ETASeconds    int     `json:"eta_seconds"`
	Service       string  `json:"service"`
}

// RawRideCard holds the on-screen texts of one ride option card.
type RawRideCard struct {
	Label     string `json:"label"`
	PriceText string `json:"price_text"`
	ETAText   string `json:"eta_text"`
}

// ExtractionRequest is one caller request: a route and the services to quote it on.
type ExtractionRequest struct {
	Pickup   Coordinate
	Dropoff  Coordinate
	Services []string
}

// RouteKey identifies a route for caching and request collapsing.
func RouteKey(service string, pickup, dropoff Coordinate) string {
	return service + ":" + pickup.String() + "-" + dropoff.String()
}
