// Package geocode provides best-effort reverse geocoding via Nominatim.
package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"
)

const (
	nominatimURL = "https://nominatim.openstreetmap.org/reverse"
	userAgent    = "TreeAnalyzePipeline/1.0"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// ReverseGeocode resolves coordinates to a "City, State, CC" string for use
// as species-prompt context. Any failure returns "unknown"; callers never
// need to handle an error.
func ReverseGeocode(ctx context.Context, lat, lon float64) string {
	url := fmt.Sprintf("%s?lat=%f&lon=%f&format=json&zoom=10", nominatimURL, lat, lon)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "unknown"
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := httpClient.Do(req)
	if err != nil {
		log.Printf("geocode: reverse lookup failed lat=%f lon=%f err=%v", lat, lon, err)
		return "unknown"
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("geocode: reverse lookup status=%d lat=%f lon=%f", resp.StatusCode, lat, lon)
		return "unknown"
	}

	var parsed struct {
		Address struct {
			City        string `json:"city"`
			Town        string `json:"town"`
			Village     string `json:"village"`
			State       string `json:"state"`
			CountryCode string `json:"country_code"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		log.Printf("geocode: parse failed lat=%f lon=%f err=%v", lat, lon, err)
		return "unknown"
	}

	city := parsed.Address.City
	if city == "" {
		city = parsed.Address.Town
	}
	if city == "" {
		city = parsed.Address.Village
	}

	var parts []string
	for _, p := range []string{city, parsed.Address.State, strings.ToUpper(parsed.Address.CountryCode)} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "unknown"
	}
	return strings.Join(parts, ", ")
}
