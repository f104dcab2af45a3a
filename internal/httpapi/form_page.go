package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geolocation"
)

const (
	FormPagePath = "/form"

	formTemplateName       = "form"
	formContentType        = "text/html; charset=utf-8"
	formRenderFailure      = "form_render_failed"
	formCreditsTextPrefix  = "Crédit restant : "
	logEventFormRenderFail = "form_render_failed"
)

// FormEndpoints lists the JSON routes the page script calls.
type FormEndpoints struct {
	Geolocation       string
	GeolocationSensor string
	GeolocationClick  string
	GeolocationAddr   string
	GeolocationFields string
	Deposits          string
}

// DefaultFormEndpoints matches the routes registered by the server.
var DefaultFormEndpoints = FormEndpoints{
	Geolocation:       "/api/geolocation",
	GeolocationSensor: "/api/geolocation/sensor",
	GeolocationClick:  "/api/geolocation/click",
	GeolocationAddr:   "/api/geolocation/address",
	GeolocationFields: "/api/geolocation/fields",
	Deposits:          "/api/deposits",
}

type FormPageHandlers struct {
	credits    CreditsSource
	stateStore *FormStateStore
	endpoints  FormEndpoints
	template   *template.Template
	logger     *zap.Logger
}

type formTemplateData struct {
	ErrorBanner string
	CreditsText string
	ShowForm    bool
	State       geolocation.State
	MapView     template.JS
	Endpoints   FormEndpoints
}

func NewFormPageHandlers(credits CreditsSource, stateStore *FormStateStore, logger *zap.Logger) *FormPageHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	compiledTemplate := template.Must(template.New(formTemplateName).Parse(formTemplateHTML))
	return &FormPageHandlers{
		credits:    credits,
		stateStore: stateStore,
		endpoints:  DefaultFormEndpoints,
		template:   compiledTemplate,
		logger:     logger,
	}
}

// RenderFormPage checks the deposit account and renders the form with the stored geolocation state.
func (handlers *FormPageHandlers) RenderFormPage(context *gin.Context) {
	payload := formTemplateData{Endpoints: handlers.endpoints}

	quantity, quantityErr := remainingQuantity(context.Request.Context(), handlers.credits, handlers.logger)
	switch {
	case errors.Is(quantityErr, errCreditsLogin):
		payload.ErrorBanner = messageLoginFailed
	case quantityErr != nil:
		payload.ErrorBanner = messageCreditsFailed
		payload.ShowForm = true
	default:
		payload.CreditsText = formCreditsTextPrefix + quantity
		payload.ShowForm = true
	}

	if payload.ShowForm {
		state := handlers.stateStore.Load(context.Request)
		serializedView, encodeErr := json.Marshal(state.MapView())
		if encodeErr != nil {
			handlers.logger.Error(logEventFormRenderFail, zap.Error(encodeErr))
			context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: formRenderFailure})
			return
		}
		payload.State = state
		payload.MapView = template.JS(serializedView)
	}

	var buffer bytes.Buffer
	if err := handlers.template.Execute(&buffer, payload); err != nil {
		handlers.logger.Error(logEventFormRenderFail, zap.Error(err))
		context.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{jsonKeyError: formRenderFailure})
		return
	}
	context.Data(http.StatusOK, formContentType, buffer.Bytes())
}
