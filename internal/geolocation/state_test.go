package geolocation

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
)

func TestMapViewDefaultsToParisOverview(testingT *testing.T) {
	view := State{}.MapView()
	require.Equal(testingT, geocoding.Coordinates{Latitude: DefaultLatitude, Longitude: DefaultLongitude}, view.Center)
	require.Equal(testingT, ZoomOverview, view.Zoom)
	require.Nil(testingT, view.Marker)
	require.Equal(testingT, TileLayerName, view.LayerName)
}

func TestMapViewPrefersMapCoordinates(testingT *testing.T) {
	state := State{
		Coordinates: &geocoding.Coordinates{Latitude: 1.5, Longitude: 2.5},
		Latitude:    "10",
		Longitude:   "20",
		Address:     "Rue du Test",
	}
	view := state.MapView()
	require.Equal(testingT, geocoding.Coordinates{Latitude: 1.5, Longitude: 2.5}, view.Center)
	require.Equal(testingT, ZoomLocated, view.Zoom)
	require.NotNil(testingT, view.Marker)
	require.Equal(testingT, "Rue du Test", view.Marker.Tooltip)
}

func TestMapViewFallsBackToTypedCoordinates(testingT *testing.T) {
	view := State{Latitude: " 44.84 ", Longitude: "-0.58"}.MapView()
	require.Equal(testingT, geocoding.Coordinates{Latitude: 44.84, Longitude: -0.58}, view.Center)
	require.Equal(testingT, ZoomLocated, view.Zoom)
	require.Equal(testingT, defaultMarkerTooltip, view.Marker.Tooltip)
}

func TestMapViewIgnoresInvalidTypedCoordinates(testingT *testing.T) {
	testCases := []State{
		{Latitude: "north", Longitude: "2"},
		{Latitude: "1", Longitude: ""},
		{Latitude: "NaN", Longitude: "2"},
		{Latitude: "1", Longitude: "+Inf"},
	}
	for _, state := range testCases {
		view := state.MapView()
		require.Equal(testingT, ZoomOverview, view.Zoom)
		require.Nil(testingT, view.Marker)
	}
}
