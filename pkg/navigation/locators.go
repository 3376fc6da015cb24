package navigation

import (
	"github.com/devicelab-dev/ride-scanner/pkg/core"
)

// Locators names the UI elements a pipeline run touches.
// App layouts change over time, so every field can be overridden per service.
type Locators struct {
	CloseButton      core.Locator `yaml:"closeButton"`
	WhereTo          core.Locator `yaml:"whereTo"`
	CurrentLocation  core.Locator `yaml:"currentLocation"`
	PickupInput      core.Locator `yaml:"pickupInput"`
	DestinationInput core.Locator `yaml:"destinationInput"`
	FirstSuggestion  core.Locator `yaml:"firstSuggestion"`
	RideCard         core.Locator `yaml:"rideCard"`
	CardLabel        core.Locator `yaml:"cardLabel"`
	CardPrice        core.Locator `yaml:"cardPrice"`
	CardETA          core.Locator `yaml:"cardETA"`
}

// DefaultLocators match the Android ride-hailing layouts seen in the field.
func DefaultLocators() Locators {
	return Locators{
		CloseButton:      core.XPath("//android.widget.Button[@text='Close']"),
		WhereTo:          core.XPath("//android.widget.EditText[contains(@text, 'Where to')]"),
		CurrentLocation:  core.XPath("//android.widget.Button[contains(@text, 'Current')]"),
		PickupInput:      core.XPath("//android.widget.EditText[contains(@hint, 'pickup')]"),
		DestinationInput: core.XPath("//android.widget.EditText[contains(@hint, 'destination')]"),
		FirstSuggestion:  core.XPath("//android.widget.ListView//android.widget.TextView[1]"),
		RideCard:         core.XPath("//android.widget.LinearLayout[contains(@resource-id, 'ride_option')]"),
		CardLabel:        core.XPath(".//android.widget.TextView[contains(@resource-id, 'vehicle_name')]"),
		CardPrice:        core.XPath(".//android.widget.TextView[contains(@resource-id, 'price')]"),
		CardETA:          core.XPath(".//android.widget.TextView[contains(@resource-id, 'eta')]"),
	}
}

// Merge returns l with every non-zero field of override applied.
func (l Locators) Merge(override Locators) Locators {
	pick := func(base, o core.Locator) core.Locator {
		if o.IsZero() {
			return base
		}
		if o.Strategy == "" {
			o.Strategy = core.StrategyXPath
		}
		return o
	}
	return Locators{
		CloseButton:      pick(l.CloseButton, override.CloseButton),
		WhereTo:          pick(l.WhereTo, override.WhereTo),
		CurrentLocation:  pick(l.CurrentLocation, override.CurrentLocation),
		PickupInput:      pick(l.PickupInput, override.PickupInput),
		DestinationInput: pick(l.DestinationInput, override.DestinationInput),
		FirstSuggestion:  pick(l.FirstSuggestion, override.FirstSuggestion),
		RideCard:         pick(l.RideCard, override.RideCard),
		CardLabel:        pick(l.CardLabel, override.CardLabel),
		CardPrice:        pick(l.CardPrice, override.CardPrice),
		CardETA:          pick(l.CardETA, override.CardETA),
	}
}
