package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/httpapi"
)

func newLoggedRouter(testingT *testing.T, status int) (*gin.Engine, *observer.ObservedLogs) {
	testingT.Helper()
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.InfoLevel)

	router := gin.New()
	router.Use(httpapi.RequestLogger(zap.New(core)))
	router.GET("/api/deposits/:id", func(context *gin.Context) {
		context.Status(status)
	})
	return router, logs
}

func TestRequestLoggerRecordsRequest(testingT *testing.T) {
	router, logs := newLoggedRouter(testingT, http.StatusOK)

	request := httptest.NewRequest(http.MethodGet, "/api/deposits/42", nil)
	request.Header.Set("User-Agent", "geodeposit-test")
	request.Header.Set(httpapi.RequestIDHeader, "trace-1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	require.Equal(testingT, "trace-1", recorder.Header().Get(httpapi.RequestIDHeader))
	entries := logs.FilterMessage("http").All()
	require.Len(testingT, entries, 1)
	require.Equal(testingT, zapcore.InfoLevel, entries[0].Level)
	fields := entries[0].ContextMap()
	require.Equal(testingT, http.MethodGet, fields["method"])
	require.Equal(testingT, "/api/deposits/:id", fields["route"])
	require.Equal(testingT, "/api/deposits/42", fields["path"])
	require.EqualValues(testingT, http.StatusOK, fields["status"])
	require.Equal(testingT, "geodeposit-test", fields["ua"])
	require.Equal(testingT, "trace-1", fields[httpapi.RequestIDContextKey])
}

func TestRequestLoggerGeneratesRequestID(testingT *testing.T) {
	router, logs := newLoggedRouter(testingT, http.StatusOK)

	request := httptest.NewRequest(http.MethodGet, "/api/deposits/42", nil)
	request.Header.Set(httpapi.RequestIDHeader, strings.Repeat("x", 200))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	generated := recorder.Header().Get(httpapi.RequestIDHeader)
	_, parseErr := uuid.Parse(generated)
	require.NoError(testingT, parseErr)
	require.Equal(testingT, generated, logs.All()[0].ContextMap()[httpapi.RequestIDContextKey])
}

func TestRequestLoggerLevelFollowsStatus(testingT *testing.T) {
	testCases := []struct {
		name          string
		path          string
		status        int
		expectedLevel zapcore.Level
		expectedRoute string
	}{
		{name: "client error", path: "/api/deposits/1", status: http.StatusBadRequest, expectedLevel: zapcore.WarnLevel, expectedRoute: "/api/deposits/:id"},
		{name: "server error", path: "/api/deposits/1", status: http.StatusBadGateway, expectedLevel: zapcore.ErrorLevel, expectedRoute: "/api/deposits/:id"},
		{name: "unknown route", path: "/nowhere", status: http.StatusOK, expectedLevel: zapcore.WarnLevel, expectedRoute: "unmatched"},
	}

	for _, testCase := range testCases {
		testingT.Run(testCase.name, func(testingT *testing.T) {
			router, logs := newLoggedRouter(testingT, testCase.status)
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, testCase.path, nil))

			entries := logs.All()
			require.Len(testingT, entries, 1)
			require.Equal(testingT, testCase.expectedLevel, entries[0].Level)
			require.Equal(testingT, testCase.expectedRoute, entries[0].ContextMap()["route"])
		})
	}
}
