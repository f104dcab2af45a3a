package geolocation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
)

const (
	// ClickTolerance is the per-axis distance under which a map click repeats the current position.
	ClickTolerance = 1e-7

	errorMessageAwaitingPermission  = "geolocation: waiting for the browser to share its position"
	errorMessagePermissionDenied    = "geolocation: permission denied"
	errorMessagePositionUnavailable = "geolocation: position unavailable"
	errorMessageUnexpectedReading   = "geolocation: unexpected sensor reading"
	errorMessageEmptyAddress        = "geolocation: empty address"
	errorMessageAddressLookup       = "geolocation: address lookup failed"
	errorMessageCoordinatesLookup   = "geolocation: coordinates lookup failed"

	logEventReverseLookupFailed = "geolocation_reverse_lookup_failed"
	logEventForwardLookupFailed = "geolocation_forward_lookup_failed"
)

var (
	// ErrAwaitingPermission indicates the sensor was triggered and no reading arrived yet.
	ErrAwaitingPermission = errors.New(errorMessageAwaitingPermission)
	// ErrPermissionDenied indicates the operator refused to share the position.
	ErrPermissionDenied = errors.New(errorMessagePermissionDenied)
	// ErrPositionUnavailable indicates the device could not determine a position.
	ErrPositionUnavailable = errors.New(errorMessagePositionUnavailable)
	// ErrUnexpectedReading indicates a reading without usable coordinates.
	ErrUnexpectedReading = errors.New(errorMessageUnexpectedReading)
	// ErrEmptyAddress indicates an address lookup was requested without an address.
	ErrEmptyAddress = errors.New(errorMessageEmptyAddress)
	// ErrAddressLookup indicates coordinates were accepted but no address could be resolved.
	ErrAddressLookup = errors.New(errorMessageAddressLookup)
	// ErrCoordinatesLookup indicates a typed address could not be resolved to coordinates.
	ErrCoordinatesLookup = errors.New(errorMessageCoordinatesLookup)
)

// Geocoder resolves addresses and positions.
type Geocoder interface {
	Forward(ctx context.Context, address string) (geocoding.Coordinates, error)
	Reverse(ctx context.Context, latitude float64, longitude float64) (string, error)
}

// SensorReading is the outcome of a browser geolocation request.
type SensorReading struct {
	PermissionDenied    bool     `json:"permission_denied"`
	PositionUnavailable bool     `json:"position_unavailable"`
	Latitude            *float64 `json:"latitude"`
	Longitude           *float64 `json:"longitude"`
}

// Reconciler keeps the address, the typed coordinates and the map position consistent
// across the sensor, map clicks and typed addresses.
type Reconciler struct {
	geocoder Geocoder
	logger   *zap.Logger
}

// NewReconciler builds a Reconciler backed by the geocoder.
func NewReconciler(geocoder Geocoder, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{geocoder: geocoder, logger: logger}
}

// RequestSensor records that the operator asked for the current position.
func (reconciler *Reconciler) RequestSensor(state *State) {
	state.Triggered = true
}

// ApplySensorReading folds a browser reading into the state.
// A nil reading means the browser has not answered yet and keeps the request pending.
func (reconciler *Reconciler) ApplySensorReading(ctx context.Context, state *State, reading *SensorReading) error {
	if reading == nil {
		return ErrAwaitingPermission
	}
	state.Triggered = false

	switch {
	case reading.PermissionDenied:
		return ErrPermissionDenied
	case reading.PositionUnavailable:
		return ErrPositionUnavailable
	case reading.Latitude == nil || reading.Longitude == nil:
		return ErrUnexpectedReading
	case *reading.Latitude == 0 || *reading.Longitude == 0:
		return ErrUnexpectedReading
	}

	return reconciler.moveTo(ctx, state, *reading.Latitude, *reading.Longitude)
}

// ApplyMapClick moves the position to a clicked point. It reports false when the click
// repeats the current position within ClickTolerance on both axes.
func (reconciler *Reconciler) ApplyMapClick(ctx context.Context, state *State, latitude float64, longitude float64) (bool, error) {
	if state.Coordinates != nil &&
		math.Abs(state.Coordinates.Latitude-latitude) < ClickTolerance &&
		math.Abs(state.Coordinates.Longitude-longitude) < ClickTolerance {
		return false, nil
	}
	return true, reconciler.moveTo(ctx, state, latitude, longitude)
}

// ApplyTypedAddress resolves a typed address and moves the position to it.
// The state is left untouched when the address cannot be resolved.
func (reconciler *Reconciler) ApplyTypedAddress(ctx context.Context, state *State, address string) error {
	normalizedAddress := strings.TrimSpace(address)
	if normalizedAddress == "" {
		return ErrEmptyAddress
	}

	coordinates, forwardErr := reconciler.geocoder.Forward(ctx, normalizedAddress)
	if forwardErr != nil {
		reconciler.logger.Info(logEventForwardLookupFailed, zap.Error(forwardErr))
		return fmt.Errorf("%w: %w", ErrCoordinatesLookup, forwardErr)
	}

	resolved := coordinates
	state.Address = address
	state.Coordinates = &resolved
	state.Latitude = geocoding.FormatCoordinate(coordinates.Latitude)
	state.Longitude = geocoding.FormatCoordinate(coordinates.Longitude)
	return nil
}

// SetFields stores the values typed by the operator.
func (reconciler *Reconciler) SetFields(state *State, address string, latitude string, longitude string) {
	state.Address = address
	state.Latitude = latitude
	state.Longitude = longitude
}

func (reconciler *Reconciler) moveTo(ctx context.Context, state *State, latitude float64, longitude float64) error {
	state.Coordinates = &geocoding.Coordinates{Latitude: latitude, Longitude: longitude}
	state.Latitude = geocoding.FormatCoordinate(latitude)
	state.Longitude = geocoding.FormatCoordinate(longitude)

	address, reverseErr := reconciler.geocoder.Reverse(ctx, latitude, longitude)
	state.Address = address
	if reverseErr != nil {
		reconciler.logger.Info(logEventReverseLookupFailed, zap.Error(reverseErr))
		return fmt.Errorf("%w: %w", ErrAddressLookup, reverseErr)
	}
	return nil
}
