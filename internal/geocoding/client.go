package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultBaseURL is the Google Geocoding JSON endpoint.
	DefaultBaseURL = "https://maps.googleapis.com/maps/api/geocode/json"

	// AddressNotFound is reported when the reverse lookup answers without a result.
	AddressNotFound = "Adresse introuvable"
	// AddressLookupFailed is reported when the reverse lookup request itself fails.
	AddressLookupFailed = "Erreur API"

	statusOK = "OK"

	parameterAddress = "address"
	parameterLatLng  = "latlng"
	parameterKey     = "key"

	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 1 << 20

	errorMessageMissingAPIKey     = "geocoding: missing google api key"
	errorMessageNoResult          = "geocoding: no result"
	errorMessageUnexpectedStatus  = "geocoding: unexpected http status"
	errorMessageRequest           = "geocoding: request"
	errorMessageDecodeResponse    = "geocoding: decode response"
	errorMessageMissingAddress    = "geocoding: missing address"
	logEventReverseLookupNoResult = "geocoding_reverse_no_result"
	logEventForwardLookupNoResult = "geocoding_forward_no_result"
)

var (
	// ErrMissingAPIKey indicates that no Google API key is configured.
	ErrMissingAPIKey = errors.New(errorMessageMissingAPIKey)
	// ErrNoResult indicates that the API answered with a non-OK status or without results.
	ErrNoResult = errors.New(errorMessageNoResult)
	// ErrUnexpectedStatus indicates the API answered with an HTTP error status.
	ErrUnexpectedStatus = errors.New(errorMessageUnexpectedStatus)
	// ErrMissingAddress indicates a forward lookup was requested for an empty address.
	ErrMissingAddress = errors.New(errorMessageMissingAddress)
)

// Coordinates is a WGS84 position.
type Coordinates struct {
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
}

// Config captures the Google Geocoding settings.
type Config struct {
	APIKey  string
	BaseURL string
}

// Client resolves addresses and coordinates through the Google Geocoding API.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	apiKey     string
	baseURL    string
}

type geocodeResponse struct {
	Status  string          `json:"status"`
	Results []geocodeResult `json:"results"`
}

type geocodeResult struct {
	FormattedAddress string `json:"formatted_address"`
	Geometry         struct {
		Location struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"location"`
	} `json:"geometry"`
}

// NewClient builds a Client. A missing API key is reported per call, not here.
func NewClient(config Config, httpClient *http.Client, logger *zap.Logger) *Client {
	baseURL := strings.TrimSpace(config.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		apiKey:     strings.TrimSpace(config.APIKey),
		baseURL:    baseURL,
	}
}

// Forward returns the coordinates of the first match for a free-text address.
func (client *Client) Forward(ctx context.Context, address string) (Coordinates, error) {
	if client.apiKey == "" {
		return Coordinates{}, ErrMissingAPIKey
	}
	normalizedAddress := strings.TrimSpace(address)
	if normalizedAddress == "" {
		return Coordinates{}, ErrMissingAddress
	}

	query := url.Values{}
	query.Set(parameterAddress, normalizedAddress)
	query.Set(parameterKey, client.apiKey)

	response, lookupErr := client.lookup(ctx, query)
	if lookupErr != nil {
		return Coordinates{}, lookupErr
	}
	if response.Status != statusOK || len(response.Results) == 0 {
		client.logger.Debug(logEventForwardLookupNoResult, zap.String("status", response.Status))
		return Coordinates{}, fmt.Errorf("%w: %s", ErrNoResult, response.Status)
	}

	location := response.Results[0].Geometry.Location
	return Coordinates{Latitude: location.Lat, Longitude: location.Lng}, nil
}

// Reverse returns the formatted address of the first match for a position.
// Failed lookups still return a displayable address alongside the error.
func (client *Client) Reverse(ctx context.Context, latitude float64, longitude float64) (string, error) {
	if client.apiKey == "" {
		return "", ErrMissingAPIKey
	}

	query := url.Values{}
	query.Set(parameterLatLng, FormatCoordinate(latitude)+","+FormatCoordinate(longitude))
	query.Set(parameterKey, client.apiKey)

	response, lookupErr := client.lookup(ctx, query)
	if lookupErr != nil {
		return AddressLookupFailed, lookupErr
	}
	if response.Status != statusOK || len(response.Results) == 0 {
		client.logger.Debug(logEventReverseLookupNoResult, zap.String("status", response.Status))
		return AddressNotFound, fmt.Errorf("%w: %s", ErrNoResult, response.Status)
	}
	return response.Results[0].FormattedAddress, nil
}

func (client *Client) lookup(ctx context.Context, query url.Values) (geocodeResponse, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	request, requestErr := http.NewRequestWithContext(ctx, http.MethodGet, client.baseURL+"?"+query.Encode(), nil)
	if requestErr != nil {
		return geocodeResponse{}, fmt.Errorf("%s: %w", errorMessageRequest, requestErr)
	}

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return geocodeResponse{}, fmt.Errorf("%s: %w", errorMessageRequest, responseErr)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusBadRequest {
		return geocodeResponse{}, fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}

	var decoded geocodeResponse
	if decodeErr := json.NewDecoder(io.LimitReader(response.Body, maxResponseBytes)).Decode(&decoded); decodeErr != nil {
		return geocodeResponse{}, fmt.Errorf("%s: %w", errorMessageDecodeResponse, decodeErr)
	}
	return decoded, nil
}

// FormatCoordinate renders a coordinate with the shortest exact decimal form.
func FormatCoordinate(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
