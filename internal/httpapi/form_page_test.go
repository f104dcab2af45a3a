package httpapi_test

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const (
	formTitleText        = "Formulaire de dépôt FIDEALIS pour INFINY"
	formLoginFailureText = "Échec de la connexion Fidealis."
	formCreditsFailure   = "Échec de la récupération des données de crédit."
	leafletScriptToken   = "leaflet@1.9.4/dist/leaflet.js"
	satelliteTilesToken  = "World_Imagery"
)

func parseDocument(testingT *testing.T, body string) *html.Node {
	testingT.Helper()
	document, parseErr := html.Parse(strings.NewReader(body))
	require.NoError(testingT, parseErr)
	return document
}

func attributeValue(node *html.Node, name string) (string, bool) {
	for _, attribute := range node.Attr {
		if attribute.Key == name {
			return attribute.Val, true
		}
	}
	return "", false
}

func findByID(node *html.Node, id string) *html.Node {
	if node.Type == html.ElementNode {
		if value, ok := attributeValue(node, "id"); ok && value == id {
			return node
		}
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		if found := findByID(child, id); found != nil {
			return found
		}
	}
	return nil
}

func textContent(node *html.Node) string {
	var builder strings.Builder
	var walk func(*html.Node)
	walk = func(current *html.Node) {
		if current.Type == html.TextNode {
			builder.WriteString(current.Data)
		}
		for child := current.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(node)
	return strings.TrimSpace(builder.String())
}

func TestFormPageShowsRemainingCredits(testingT *testing.T) {
	harness := newFormHarness(testingT)

	recorder := harness.perform(testingT, http.MethodGet, "/form", nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)
	require.Contains(testingT, recorder.Header().Get("Content-Type"), "text/html")
	require.Contains(testingT, recorder.Body.String(), leafletScriptToken)
	require.Contains(testingT, recorder.Body.String(), satelliteTilesToken)

	document := parseDocument(testingT, recorder.Body.String())
	credits := findByID(document, "credits")
	require.NotNil(testingT, credits)
	require.Equal(testingT, "Crédit restant : 42", textContent(credits))
	require.Nil(testingT, findByID(document, "account-banner"))

	form := findByID(document, "deposit-form")
	require.NotNil(testingT, form)
	enctype, _ := attributeValue(form, "enctype")
	require.Equal(testingT, "multipart/form-data", enctype)

	photos := findByID(document, "photos")
	require.NotNil(testingT, photos)
	_, multiple := attributeValue(photos, "multiple")
	require.True(testingT, multiple)
	accept, _ := attributeValue(photos, "accept")
	require.Contains(testingT, accept, ".jpg")
	require.Contains(testingT, accept, ".png")

	for _, fieldID := range []string{"client_name", "address", "latitude", "longitude", "map", "locate-button", "refresh-map-button"} {
		require.NotNil(testingT, findByID(document, fieldID), fieldID)
	}
}

func TestFormPageShowsUnavailableQuantity(testingT *testing.T) {
	harness := newFormHarness(testingT)
	harness.credits.credits = nil

	document := parseDocument(testingT, harness.perform(testingT, http.MethodGet, "/form", nil).Body.String())
	require.Equal(testingT, "Crédit restant : N/A", textContent(findByID(document, "credits")))
}

func TestFormPageStopsOnLoginFailure(testingT *testing.T) {
	harness := newFormHarness(testingT)
	harness.credits.loginErr = errors.New("invalid account key")

	recorder := harness.perform(testingT, http.MethodGet, "/form", nil)
	require.Equal(testingT, http.StatusOK, recorder.Code)

	document := parseDocument(testingT, recorder.Body.String())
	banner := findByID(document, "account-banner")
	require.NotNil(testingT, banner)
	require.Equal(testingT, formLoginFailureText, textContent(banner))
	require.Nil(testingT, findByID(document, "deposit-form"))
	require.Nil(testingT, findByID(document, "credits"))
	require.NotContains(testingT, recorder.Body.String(), leafletScriptToken)
}

func TestFormPageKeepsFormOnCreditsFailure(testingT *testing.T) {
	harness := newFormHarness(testingT)
	harness.credits.creditsErr = errors.New("credits endpoint down")

	document := parseDocument(testingT, harness.perform(testingT, http.MethodGet, "/form", nil).Body.String())
	banner := findByID(document, "account-banner")
	require.NotNil(testingT, banner)
	require.Equal(testingT, formCreditsFailure, textContent(banner))
	require.Nil(testingT, findByID(document, "credits"))
	require.NotNil(testingT, findByID(document, "deposit-form"))
}

func TestFormPagePrefillsStoredState(testingT *testing.T) {
	harness := newFormHarness(testingT)
	harness.perform(testingT, http.MethodPost, "/api/geolocation/click", map[string]any{
		"latitude": 48.8686, "longitude": 2.3318,
	})

	recorder := harness.perform(testingT, http.MethodGet, "/form", nil)
	document := parseDocument(testingT, recorder.Body.String())

	addressValue, _ := attributeValue(findByID(document, "address"), "value")
	latitudeValue, _ := attributeValue(findByID(document, "latitude"), "value")
	longitudeValue, _ := attributeValue(findByID(document, "longitude"), "value")
	require.Equal(testingT, testAddress, addressValue)
	require.Equal(testingT, "48.8686", latitudeValue)
	require.Equal(testingT, "2.3318", longitudeValue)

	addressPanel := findByID(document, "geo-address")
	require.NotNil(testingT, addressPanel)
	_, hidden := attributeValue(addressPanel, "hidden")
	require.False(testingT, hidden)
	require.Contains(testingT, recorder.Body.String(), `"zoom":17`)
}

func TestCreditsEndpoint(testingT *testing.T) {
	testCases := []struct {
		name           string
		loginErr       error
		creditsErr     error
		expectedStatus int
		expectedBody   string
	}{
		{
			name:           "quantity",
			expectedStatus: http.StatusOK,
			expectedBody:   `{"product_id":"4","quantity":"42"}`,
		},
		{
			name:           "login failure",
			loginErr:       errors.New("denied"),
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `{"error":"fidealis_login_failed","message":"Échec de la connexion Fidealis."}`,
		},
		{
			name:           "credits failure",
			creditsErr:     errors.New("timeout"),
			expectedStatus: http.StatusBadGateway,
			expectedBody:   `{"error":"credits_unavailable","message":"Échec de la récupération des données de crédit."}`,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		testingT.Run(testCase.name, func(t *testing.T) {
			harness := newFormHarness(t)
			harness.credits.loginErr = testCase.loginErr
			harness.credits.creditsErr = testCase.creditsErr

			recorder := harness.perform(t, http.MethodGet, "/api/credits", nil)
			require.Equal(t, testCase.expectedStatus, recorder.Code)
			require.JSONEq(t, testCase.expectedBody, recorder.Body.String())
		})
	}
}
