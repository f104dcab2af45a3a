package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/geolocation"
)

const (
	MessageLevelInfo    = "info"
	MessageLevelSuccess = "success"
	MessageLevelWarning = "warning"
	MessageLevelError   = "error"

	errorValueInvalidJSON        = "invalid_json"
	errorValueMissingCoordinates = "missing_coordinates"
	errorValueSaveStateFailed    = "save_state_failed"

	messageAwaitingPermission   = "⏳ En attente... veuillez autoriser la géolocalisation."
	messagePermissionDenied     = "❌ Permission refusée."
	messagePositionUnavailable  = "❌ Position GPS indisponible."
	messageUnexpectedReading    = "🚨 Format inattendu de la géolocalisation."
	messageEmptyAddress         = "Veuillez d'abord saisir une adresse."
	messageCoordinatesNotFound  = "Impossible de trouver les coordonnées pour cette adresse."
	messageCoordinatesUpdated   = "Coordonnées trouvées et mises à jour."
	messageMissingGoogleAPIKey  = "❌ Clé API Google (GOOGLE_API_KEY) absente."
	messageAddressNotResolved   = "⚠️ Adresse introuvable pour cette position."
	messageGeocodingUnavailable = "❌ Erreur lors de l'appel à l'API Google."
	messageAddressPrefix        = "🏠 Adresse : "
)

// StatusMessage is a user-facing notice with its severity.
type StatusMessage struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

type geolocationResponse struct {
	State   geolocation.State   `json:"state"`
	Map     geolocation.MapView `json:"map"`
	Updated bool                `json:"updated"`
	Message *StatusMessage      `json:"message,omitempty"`
}

type sensorRequest struct {
	Reading *geolocation.SensorReading `json:"reading"`
}

type clickRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type addressRequest struct {
	Address string `json:"address"`
}

type fieldsRequest struct {
	Address   string `json:"address"`
	Latitude  string `json:"latitude"`
	Longitude string `json:"longitude"`
}

type GeolocationHandlers struct {
	reconciler *geolocation.Reconciler
	stateStore *FormStateStore
	logger     *zap.Logger
}

func NewGeolocationHandlers(reconciler *geolocation.Reconciler, stateStore *FormStateStore, logger *zap.Logger) *GeolocationHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeolocationHandlers{reconciler: reconciler, stateStore: stateStore, logger: logger}
}

func (handlers *GeolocationHandlers) GetState(context *gin.Context) {
	state := handlers.stateStore.Load(context.Request)
	context.JSON(http.StatusOK, geolocationResponse{State: state, Map: state.MapView()})
}

// ApplySensor marks the sensor as requested and folds in the browser reading when present.
func (handlers *GeolocationHandlers) ApplySensor(context *gin.Context) {
	var payload sensorRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	state := handlers.stateStore.Load(context.Request)
	handlers.reconciler.RequestSensor(&state)
	applyErr := handlers.reconciler.ApplySensorReading(context.Request.Context(), &state, payload.Reading)

	var message *StatusMessage
	updated := false
	switch {
	case applyErr == nil:
		updated = true
		message = &StatusMessage{Level: MessageLevelInfo, Text: messageAddressPrefix + state.Address}
	case errors.Is(applyErr, geolocation.ErrAddressLookup):
		updated = true
		message = messageForError(applyErr)
	default:
		message = messageForError(applyErr)
	}
	handlers.respond(context, state, updated, message)
}

// ApplyClick moves the position to a clicked point unless the click repeats the current one.
func (handlers *GeolocationHandlers) ApplyClick(context *gin.Context) {
	var payload clickRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}
	if payload.Latitude == nil || payload.Longitude == nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueMissingCoordinates})
		return
	}

	state := handlers.stateStore.Load(context.Request)
	updated, applyErr := handlers.reconciler.ApplyMapClick(context.Request.Context(), &state, *payload.Latitude, *payload.Longitude)
	var message *StatusMessage
	if applyErr != nil {
		message = messageForError(applyErr)
	}
	handlers.respond(context, state, updated, message)
}

// ApplyAddress resolves the typed address and updates the coordinates.
func (handlers *GeolocationHandlers) ApplyAddress(context *gin.Context) {
	var payload addressRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	state := handlers.stateStore.Load(context.Request)
	applyErr := handlers.reconciler.ApplyTypedAddress(context.Request.Context(), &state, payload.Address)
	if applyErr != nil {
		handlers.respond(context, state, false, messageForError(applyErr))
		return
	}
	handlers.respond(context, state, true, &StatusMessage{Level: MessageLevelSuccess, Text: messageCoordinatesUpdated})
}

// SetFields stores the values typed into the address and coordinate inputs.
func (handlers *GeolocationHandlers) SetFields(context *gin.Context) {
	var payload fieldsRequest
	if bindErr := context.ShouldBindJSON(&payload); bindErr != nil {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidJSON})
		return
	}

	state := handlers.stateStore.Load(context.Request)
	handlers.reconciler.SetFields(&state, payload.Address, payload.Latitude, payload.Longitude)
	handlers.respond(context, state, true, nil)
}

func (handlers *GeolocationHandlers) respond(context *gin.Context, state geolocation.State, updated bool, message *StatusMessage) {
	if saveErr := handlers.stateStore.Save(context.Writer, context.Request, state); saveErr != nil {
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueSaveStateFailed})
		return
	}
	context.JSON(http.StatusOK, geolocationResponse{
		State:   state,
		Map:     state.MapView(),
		Updated: updated,
		Message: message,
	})
}

func messageForError(err error) *StatusMessage {
	switch {
	case errors.Is(err, geolocation.ErrAwaitingPermission):
		return &StatusMessage{Level: MessageLevelInfo, Text: messageAwaitingPermission}
	case errors.Is(err, geolocation.ErrPermissionDenied):
		return &StatusMessage{Level: MessageLevelError, Text: messagePermissionDenied}
	case errors.Is(err, geolocation.ErrPositionUnavailable):
		return &StatusMessage{Level: MessageLevelError, Text: messagePositionUnavailable}
	case errors.Is(err, geolocation.ErrUnexpectedReading):
		return &StatusMessage{Level: MessageLevelError, Text: messageUnexpectedReading}
	case errors.Is(err, geolocation.ErrEmptyAddress):
		return &StatusMessage{Level: MessageLevelWarning, Text: messageEmptyAddress}
	case errors.Is(err, geocoding.ErrMissingAPIKey):
		return &StatusMessage{Level: MessageLevelError, Text: messageMissingGoogleAPIKey}
	case errors.Is(err, geolocation.ErrCoordinatesLookup):
		return &StatusMessage{Level: MessageLevelError, Text: messageCoordinatesNotFound}
	case errors.Is(err, geocoding.ErrNoResult):
		return &StatusMessage{Level: MessageLevelWarning, Text: messageAddressNotResolved}
	default:
		return &StatusMessage{Level: MessageLevelError, Text: messageGeocodingUnavailable}
	}
}
