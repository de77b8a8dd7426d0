package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

const (
	serviceAreaLatMin = 6.0
	serviceAreaLatMax = 37.0
	serviceAreaLngMin = 68.0
	serviceAreaLngMax = 97.0

	locationCellLevel   = 13
	geocoderMinInterval = time.Second
)

// serviceArea is the national bounding box reports are accepted in.
var serviceArea = boundingRect(serviceAreaLatMin, serviceAreaLngMin, serviceAreaLatMax, serviceAreaLngMax)

func boundingRect(latMin, lngMin, latMax, lngMax float64) s2.Rect {
	minLL := s2.LatLngFromDegrees(latMin, lngMin)
	maxLL := s2.LatLngFromDegrees(latMax, lngMax)
	return s2.Rect{
		Lat: r1.Interval{Lo: minLL.Lat.Radians(), Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{Lo: minLL.Lng.Radians(), Hi: maxLL.Lng.Radians()},
	}
}

func validateReportLocation(lat, lng float64) error {
	ll := s2.LatLngFromDegrees(lat, lng)
	if !ll.IsValid() || !serviceArea.ContainsLatLng(ll) {
		return &apiError{
			Status:  http.StatusBadRequest,
			Code:    "invalid_location",
			Message: fmt.Sprintf("coordinates must lie between %.0f-%.0f°N and %.0f-%.0f°E", serviceAreaLatMin, serviceAreaLatMax, serviceAreaLngMin, serviceAreaLngMax),
		}
	}
	return nil
}

// locationCell groups nearby reports; the token is stable for a ~1km² area.
func locationCell(lat, lng float64) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(locationCellLevel).ToToken()
}

type addressLookup interface {
	ReverseGeocode(ctx context.Context, lat, lng float64) (string, error)
}

// nominatimLookup resolves a street address for manually entered reports.
// Nominatim allows one request per second.
type nominatimLookup struct {
	BaseURL   string
	UserAgent string
	Client    *http.Client

	mu       sync.Mutex
	lastCall time.Time
}

func (g *nominatimLookup) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	g.mu.Lock()
	if elapsed := time.Since(g.lastCall); elapsed < geocoderMinInterval {
		time.Sleep(geocoderMinInterval - elapsed)
	}
	g.lastCall = time.Now()
	g.mu.Unlock()

	query := url.Values{}
	query.Set("format", "jsonv2")
	query.Set("lat", fmt.Sprintf("%f", lat))
	query.Set("lon", fmt.Sprintf("%f", lng))
	query.Set("addressdetails", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(g.BaseURL, "/")+"/reverse?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", g.UserAgent)

	resp, err := g.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("nominatim error: %d", resp.StatusCode)
	}

	var data struct {
		DisplayName string `json:"display_name"`
		Address     struct {
			Road          string `json:"road"`
			Neighbourhood string `json:"neighbourhood"`
			Suburb        string `json:"suburb"`
			City          string `json:"city"`
			Town          string `json:"town"`
			Village       string `json:"village"`
		} `json:"address"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", err
	}

	city := data.Address.City
	if city == "" {
		city = data.Address.Town
	}
	if city == "" {
		city = data.Address.Village
	}
	parts := make([]string, 0, 3)
	for _, part := range []string{data.Address.Road, firstNonEmpty(data.Address.Neighbourhood, data.Address.Suburb), city} {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 {
		return strings.TrimSpace(data.DisplayName), nil
	}
	return strings.Join(parts, ", "), nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
