package geolocation

import (
	"math"
	"strconv"
	"strings"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
)

const (
	// DefaultLatitude and DefaultLongitude centre the map on Paris when no position is known.
	DefaultLatitude  = 48.8566
	DefaultLongitude = 2.3522

	// ZoomLocated is used when the map has a position to show.
	ZoomLocated = 17
	// ZoomOverview is used when no position is known.
	ZoomOverview = 12

	// TileLayerURL serves the Esri World Imagery satellite tiles.
	TileLayerURL = "https://server.arcgisonline.com/ArcGIS/rest/services/World_Imagery/MapServer/tile/{z}/{y}/{x}"
	// TileLayerAttribution credits the satellite imagery.
	TileLayerAttribution = "Tiles &copy; Esri"
	// TileLayerName labels the satellite layer in the layer control.
	TileLayerName = "Satellite"

	defaultMarkerTooltip = "Position"
)

// State is the per-form geolocation state.
type State struct {
	Coordinates *geocoding.Coordinates `json:"coords,omitempty"`
	Address     string                 `json:"address"`
	Latitude    string                 `json:"latitude"`
	Longitude   string                 `json:"longitude"`
	Triggered   bool                   `json:"triggered"`
}

// Marker pins the known position on the map.
type Marker struct {
	Position geocoding.Coordinates `json:"position"`
	Tooltip  string                `json:"tooltip"`
}

// MapView describes how the map widget should be drawn for a state.
type MapView struct {
	Center      geocoding.Coordinates `json:"center"`
	Zoom        int                   `json:"zoom"`
	Marker      *Marker               `json:"marker,omitempty"`
	TileURL     string                `json:"tile_url"`
	Attribution string                `json:"attribution"`
	LayerName   string                `json:"layer_name"`
}

// MapView centres on the map coordinates, then on the typed coordinates, then on Paris.
func (state State) MapView() MapView {
	view := MapView{
		Center:      geocoding.Coordinates{Latitude: DefaultLatitude, Longitude: DefaultLongitude},
		Zoom:        ZoomOverview,
		TileURL:     TileLayerURL,
		Attribution: TileLayerAttribution,
		LayerName:   TileLayerName,
	}

	center, located := state.position()
	if !located {
		return view
	}

	tooltip := strings.TrimSpace(state.Address)
	if tooltip == "" {
		tooltip = defaultMarkerTooltip
	}
	view.Center = center
	view.Zoom = ZoomLocated
	view.Marker = &Marker{Position: center, Tooltip: tooltip}
	return view
}

func (state State) position() (geocoding.Coordinates, bool) {
	if state.Coordinates != nil {
		return *state.Coordinates, true
	}
	latitude, latitudeOK := parseCoordinate(state.Latitude)
	longitude, longitudeOK := parseCoordinate(state.Longitude)
	if !latitudeOK || !longitudeOK {
		return geocoding.Coordinates{}, false
	}
	return geocoding.Coordinates{Latitude: latitude, Longitude: longitude}, true
}

func parseCoordinate(raw string) (float64, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return 0, false
	}
	value, parseErr := strconv.ParseFloat(trimmed, 64)
	if parseErr != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	return value, true
}
