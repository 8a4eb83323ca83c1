package mapsvc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"campusrun/internal/domain/entities"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Client talks to a Nominatim-compatible geocoder and an OSRM-compatible
// router over HTTP. Either base URL may be empty, in which case the matching
// calls return ErrServiceDisabled.
type Client struct {
	geocoderURL string
	routerURL   string
	profile     string
	userAgent   string
	httpClient  *http.Client
}

// NewClient creates a map services client.
func NewClient(geocoderURL, routerURL, userAgent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		geocoderURL: strings.TrimRight(geocoderURL, "/"),
		routerURL:   strings.TrimRight(routerURL, "/"),
		profile:     "foot",
		userAgent:   userAgent,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type nominatimPlace struct {
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
	Error       string `json:"error,omitempty"`
}

// Forward geocodes a free-form address to its best match.
func (c *Client) Forward(ctx context.Context, address string) (entities.Location, error) {
	if c.geocoderURL == "" {
		return entities.Location{}, ErrServiceDisabled
	}
	params := url.Values{}
	params.Set("q", address)
	params.Set("format", "jsonv2")
	params.Set("limit", "1")

	var places []nominatimPlace
	if err := c.getJSON(ctx, c.geocoderURL+"/search?"+params.Encode(), &places); err != nil {
		return entities.Location{}, fmt.Errorf("%w: %v", ErrGeocodeFailure, err)
	}
	if len(places) == 0 {
		return entities.Location{}, ErrNoResult
	}

	lat, errLat := strconv.ParseFloat(places[0].Lat, 64)
	lng, errLng := strconv.ParseFloat(places[0].Lon, 64)
	if errLat != nil || errLng != nil {
		return entities.Location{}, fmt.Errorf("%w: unparseable coordinates %q,%q", ErrGeocodeFailure, places[0].Lat, places[0].Lon)
	}
	loc := entities.NewLocation(lat, lng).WithAddress(places[0].DisplayName)
	if !loc.Valid() {
		return entities.Location{}, entities.ErrInvalidLocation
	}
	return loc, nil
}

// Reverse returns a display address for a coordinate.
func (c *Client) Reverse(ctx context.Context, loc entities.Location) (string, error) {
	if c.geocoderURL == "" {
		return "", ErrServiceDisabled
	}
	if !loc.Valid() {
		return "", entities.ErrInvalidLocation
	}
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(loc.Latitude, 'f', 6, 64))
	params.Set("lon", strconv.FormatFloat(loc.Longitude, 'f', 6, 64))
	params.Set("format", "jsonv2")

	var place nominatimPlace
	if err := c.getJSON(ctx, c.geocoderURL+"/reverse?"+params.Encode(), &place); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeocodeFailure, err)
	}
	if place.Error != "" || place.DisplayName == "" {
		return "", ErrNoResult
	}
	return place.DisplayName, nil
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Routes  []struct {
		Distance float64          `json:"distance"`
		Duration float64          `json:"duration"`
		Geometry geojson.Geometry `json:"geometry"`
	} `json:"routes"`
}

// Route asks the router for the fastest path from origin to destination.
func (c *Client) Route(ctx context.Context, origin, destination entities.Location) (*Route, error) {
	if c.routerURL == "" {
		return nil, fmt.Errorf("%w: %v", entities.ErrRoutingFailure, ErrServiceDisabled)
	}
	if !origin.Valid() || !destination.Valid() {
		return nil, fmt.Errorf("%w: %v", entities.ErrRoutingFailure, entities.ErrInvalidLocation)
	}

	coords := fmt.Sprintf("%.6f,%.6f;%.6f,%.6f",
		origin.Longitude, origin.Latitude, destination.Longitude, destination.Latitude)
	endpoint := fmt.Sprintf("%s/route/v1/%s/%s?overview=full&geometries=geojson", c.routerURL, c.profile, coords)

	var resp osrmResponse
	if err := c.getJSON(ctx, endpoint, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", entities.ErrRoutingFailure, err)
	}
	if resp.Code != "Ok" || len(resp.Routes) == 0 {
		return nil, fmt.Errorf("%w: router answered %q %s", entities.ErrRoutingFailure, resp.Code, resp.Message)
	}

	best := resp.Routes[0]
	route := &Route{
		DistanceMeters:  best.Distance,
		DurationSeconds: best.Duration,
	}
	if line, ok := best.Geometry.Geometry().(orb.LineString); ok {
		route.Path = line
	}
	return route, nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
