package main

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/httpapi"
)

const (
	apiRoutePrefix             = "/api"
	apiRouteGeolocation        = "/geolocation"
	apiRouteGeolocationSensor  = "/geolocation/sensor"
	apiRouteGeolocationClick   = "/geolocation/click"
	apiRouteGeolocationAddress = "/geolocation/address"
	apiRouteGeolocationFields  = "/geolocation/fields"
	apiRouteCredits            = "/credits"
	apiRouteDeposits           = "/deposits"
	corsOriginWildcard         = "*"
	corsHeaderContentType      = "Content-Type"
	corsPreflightMaxAge        = 12 * time.Hour
)

var (
	corsAllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions}
	corsAllowedHeaders = []string{corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func newAPICORS(allowedOrigins []string) gin.HandlerFunc {
	// Credentials are only allowed for an explicit origin list.
	allowCredentials := len(allowedOrigins) > 0
	for _, origin := range allowedOrigins {
		if origin == corsOriginWildcard {
			allowCredentials = false
			allowedOrigins = []string{corsOriginWildcard}
			break
		}
	}
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           corsPreflightMaxAge,
	})
}

func registerFrontendRoutes(router *gin.Engine, formHandlers *httpapi.FormPageHandlers) {
	router.GET("/", func(context *gin.Context) {
		context.Redirect(http.StatusFound, httpapi.FormPagePath)
	})
	router.GET(httpapi.FormPagePath, formHandlers.RenderFormPage)
}

func registerBackendRoutes(
	router *gin.Engine,
	apiCORS gin.HandlerFunc,
	geolocationHandlers *httpapi.GeolocationHandlers,
	creditsHandlers *httpapi.CreditsHandlers,
	depositHandlers *httpapi.DepositHandlers,
) {
	apiGroup := router.Group(apiRoutePrefix)
	apiGroup.Use(apiCORS)
	apiGroup.OPTIONS("/*path", func(context *gin.Context) {
		context.Status(http.StatusNoContent)
	})
	apiGroup.GET(apiRouteGeolocation, geolocationHandlers.GetState)
	apiGroup.POST(apiRouteGeolocationSensor, geolocationHandlers.ApplySensor)
	apiGroup.POST(apiRouteGeolocationClick, geolocationHandlers.ApplyClick)
	apiGroup.POST(apiRouteGeolocationAddress, geolocationHandlers.ApplyAddress)
	apiGroup.PUT(apiRouteGeolocationFields, geolocationHandlers.SetFields)
	apiGroup.GET(apiRouteCredits, creditsHandlers.GetCredits)
	apiGroup.POST(apiRouteDeposits, depositHandlers.CreateDeposit)
	apiGroup.GET(apiRouteDeposits, depositHandlers.ListDeposits)
}
