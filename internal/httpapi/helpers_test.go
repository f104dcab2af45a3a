package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/fidealis"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/geolocation"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/httpapi"
)

const (
	testSessionSecret = "test-session-secret-0123456789abcdef"
	testSessionID     = "session-123"
	testAddress       = "1 Rue de la Paix, 75002 Paris, France"
)

type stubCreditsSource struct {
	loginErr   error
	creditsErr error
	credits    fidealis.Credits
}

func (source *stubCreditsSource) Login(context.Context) (string, error) {
	if source.loginErr != nil {
		return "", source.loginErr
	}
	return testSessionID, nil
}

func (source *stubCreditsSource) Credits(_ context.Context, sessionID string) (fidealis.Credits, error) {
	if sessionID != testSessionID {
		return nil, errors.New("unexpected session")
	}
	if source.creditsErr != nil {
		return nil, source.creditsErr
	}
	return source.credits, nil
}

type stubGeocoder struct {
	mutex          sync.Mutex
	forwardResult  geocoding.Coordinates
	forwardErr     error
	reverseAddress string
	reverseErr     error
	reverseCalls   int
}

func (geocoder *stubGeocoder) Forward(context.Context, string) (geocoding.Coordinates, error) {
	return geocoder.forwardResult, geocoder.forwardErr
}

func (geocoder *stubGeocoder) Reverse(context.Context, float64, float64) (string, error) {
	geocoder.mutex.Lock()
	defer geocoder.mutex.Unlock()
	geocoder.reverseCalls++
	return geocoder.reverseAddress, geocoder.reverseErr
}

type formHarness struct {
	router   *gin.Engine
	credits  *stubCreditsSource
	geocoder *stubGeocoder
	cookies  []*http.Cookie
}

func newFormHarness(testingT *testing.T) *formHarness {
	testingT.Helper()
	gin.SetMode(gin.TestMode)

	stateStore, storeErr := httpapi.NewFormStateStore(testSessionSecret, false, zap.NewNop())
	require.NoError(testingT, storeErr)

	credits := &stubCreditsSource{credits: fidealis.Credits{fidealis.DepositProductID: "42"}}
	geocoder := &stubGeocoder{reverseAddress: testAddress}
	reconciler := geolocation.NewReconciler(geocoder, zap.NewNop())

	formHandlers := httpapi.NewFormPageHandlers(credits, stateStore, zap.NewNop())
	geolocationHandlers := httpapi.NewGeolocationHandlers(reconciler, stateStore, zap.NewNop())
	creditsHandlers := httpapi.NewCreditsHandlers(credits, zap.NewNop())

	router := gin.New()
	router.GET(httpapi.FormPagePath, formHandlers.RenderFormPage)
	router.GET("/api/credits", creditsHandlers.GetCredits)
	router.GET("/api/geolocation", geolocationHandlers.GetState)
	router.POST("/api/geolocation/sensor", geolocationHandlers.ApplySensor)
	router.POST("/api/geolocation/click", geolocationHandlers.ApplyClick)
	router.POST("/api/geolocation/address", geolocationHandlers.ApplyAddress)
	router.PUT("/api/geolocation/fields", geolocationHandlers.SetFields)

	return &formHarness{router: router, credits: credits, geocoder: geocoder}
}

// perform sends the request with the cookies collected so far and keeps any cookie the response sets.
func (harness *formHarness) perform(testingT *testing.T, method string, path string, body any) *httptest.ResponseRecorder {
	testingT.Helper()
	var requestBody io.Reader
	if body != nil {
		encoded, encodeErr := json.Marshal(body)
		require.NoError(testingT, encodeErr)
		requestBody = bytes.NewReader(encoded)
	}
	request := httptest.NewRequest(method, path, requestBody)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}
	for _, cookie := range harness.cookies {
		request.AddCookie(cookie)
	}
	recorder := httptest.NewRecorder()
	harness.router.ServeHTTP(recorder, request)
	if responseCookies := recorder.Result().Cookies(); len(responseCookies) > 0 {
		harness.cookies = responseCookies
	}
	return recorder
}

type geolocationPayload struct {
	State   geolocation.State      `json:"state"`
	Map     geolocation.MapView    `json:"map"`
	Updated bool                   `json:"updated"`
	Message *httpapi.StatusMessage `json:"message"`
}

func decodeGeolocation(testingT *testing.T, recorder *httptest.ResponseRecorder) geolocationPayload {
	testingT.Helper()
	require.Equal(testingT, http.StatusOK, recorder.Code, recorder.Body.String())
	var payload geolocationPayload
	require.NoError(testingT, json.Unmarshal(recorder.Body.Bytes(), &payload))
	return payload
}

func float64Pointer(value float64) *float64 {
	return &value
}
