// Package anpr defines the license-plate recognition boundary.
package anpr

import (
	"context"
	"image"
	"unicode"
)

// LicensePlate is one recognized plate.
type LicensePlate struct {
	Text        string          `json:"text"`
	Confidence  float64         `json:"confidence"`
	Bounds      image.Rectangle `json:"-"`
	CountryCode string          `json:"countryCode,omitempty"`
}

// Recognizer recognizes a license plate within the given region of img,
// returning nil when no plate is readable there. This is the capability
// boundary to the external ANPR models.
type Recognizer func(ctx context.Context, img image.Image, region image.Rectangle) (*LicensePlate, error)

// DetectCountry infers a country code from the plate text format, returning
// "" when the format is not recognized.
func DetectCountry(text string) string {
	// Indian plates: two letters, two digits, then the series.
	if len(text) >= 9 &&
		isAlpha(text[0]) && isAlpha(text[1]) &&
		isDigit(text[2]) && isDigit(text[3]) {
		return "IN"
	}
	return ""
}

func isAlpha(b byte) bool { return unicode.IsLetter(rune(b)) }
func isDigit(b byte) bool { return unicode.IsDigit(rune(b)) }
