// Package estimate turns on-screen price and ETA strings into quote fields.
package estimate

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// digitRun matches maximal runs of ASCII digits (RE2 \d is ASCII-only).
var digitRun = regexp.MustCompile(`\d+`)

// ParsePrice returns the mean of every digit run in text after dropping
// thousands separators, so "₹150-180" is 165 and "$1,250" is 1250.
// Text without digits yields 0. Runs past float64 range are ignored and a
// non-finite mean yields 0, so the result always encodes as JSON.
func ParsePrice(text string) float64 {
	runs := digitRun.FindAllString(strings.ReplaceAll(text, ",", ""), -1)

	var sum float64
	n := 0
	for _, r := range runs {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil || math.IsInf(v, 0) {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	mean := sum / float64(n)
	if math.IsInf(mean, 0) || math.IsNaN(mean) {
		return 0
	}
	return mean
}

// ParseETA reads the first digit run in text as minutes and returns seconds.
// "5 min" is 300, "soon" is 0. A run too large for int also yields 0.
func ParseETA(text string) int {
	run := digitRun.FindString(text)
	if run == "" {
		return 0
	}
	minutes, err := strconv.Atoi(run)
	if err != nil || minutes > maxMinutes {
		return 0
	}
	return minutes * 60
}

// maxMinutes keeps minutes*60 inside int range.
const maxMinutes = int(^uint(0)>>1) / 60

// Quote builds a RideQuote for service from a harvested card.
func Quote(service string, card core.RawRideCard) core.RideQuote {
	return core.RideQuote{
		VehicleType:   strings.TrimSpace(card.Label),
		PriceEstimate: ParsePrice(card.PriceText),
		ETASeconds:    ParseETA(card.ETAText),
		Service:       service,
	}
}

// Quotes converts cards in order.
func Quotes(service string, cards []core.RawRideCard) []core.RideQuote {
	quotes := make([]core.RideQuote, 0, len(cards))
	for _, c := range cards {
		quotes = append(quotes, Quote(service, c))
	}
	return quotes
}
