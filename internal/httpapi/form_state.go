package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/sessions"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/geolocation"
)

const (
	formStateSessionName = "geodeposit_form"
	formStateValueKey    = "geolocation"
	formStateMaxAge      = 7 * 24 * 60 * 60

	logEventLoadFormState = "load_form_state"
	logEventSaveFormState = "save_form_state"
)

// ErrMissingSessionSecret indicates the form state cookie cannot be signed.
var ErrMissingSessionSecret = errors.New("httpapi: missing session secret")

// FormStateStore keeps the geolocation state of each browser in a signed cookie.
type FormStateStore struct {
	store  *sessions.CookieStore
	logger *zap.Logger
}

func NewFormStateStore(secret string, secureCookies bool, logger *zap.Logger) (*FormStateStore, error) {
	trimmedSecret := strings.TrimSpace(secret)
	if trimmedSecret == "" {
		return nil, ErrMissingSessionSecret
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	store := sessions.NewCookieStore([]byte(trimmedSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   formStateMaxAge,
		HttpOnly: true,
		Secure:   secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	return &FormStateStore{store: store, logger: logger}, nil
}

// Load returns the stored state, or an empty state when the cookie is absent or unreadable.
func (formStateStore *FormStateStore) Load(request *http.Request) geolocation.State {
	var state geolocation.State
	session, sessionErr := formStateStore.store.Get(request, formStateSessionName)
	if sessionErr != nil {
		formStateStore.logger.Debug(logEventLoadFormState, zap.Error(sessionErr))
		return state
	}
	serialized, ok := session.Values[formStateValueKey].(string)
	if !ok || serialized == "" {
		return state
	}
	if decodeErr := json.Unmarshal([]byte(serialized), &state); decodeErr != nil {
		formStateStore.logger.Warn(logEventLoadFormState, zap.Error(decodeErr))
		return geolocation.State{}
	}
	return state
}

func (formStateStore *FormStateStore) Save(writer http.ResponseWriter, request *http.Request, state geolocation.State) error {
	serialized, encodeErr := json.Marshal(state)
	if encodeErr != nil {
		return encodeErr
	}
	session, sessionErr := formStateStore.store.Get(request, formStateSessionName)
	if sessionErr != nil {
		formStateStore.logger.Debug(logEventSaveFormState, zap.Error(sessionErr))
	}
	session.Values[formStateValueKey] = string(serialized)
	if saveErr := session.Save(request, writer); saveErr != nil {
		formStateStore.logger.Warn(logEventSaveFormState, zap.Error(saveErr))
		return saveErr
	}
	return nil
}
