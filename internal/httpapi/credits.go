package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/fidealis"
)

const (
	jsonKeyError     = "error"
	jsonKeyMessage   = "message"
	jsonKeyProductID = "product_id"
	jsonKeyQuantity  = "quantity"

	errorValueLoginFailed        = "fidealis_login_failed"
	errorValueCreditsUnavailable = "credits_unavailable"

	messageLoginFailed   = "Échec de la connexion Fidealis."
	messageCreditsFailed = "Échec de la récupération des données de crédit."

	logEventFidealisLoginFailed   = "fidealis_login_failed"
	logEventFidealisCreditsFailed = "fidealis_credits_failed"
)

var (
	errCreditsLogin  = errors.New("httpapi: fidealis login")
	errCreditsLookup = errors.New("httpapi: fidealis credits")
)

// CreditsSource opens a deposit API session and reads the account balance.
type CreditsSource interface {
	Login(ctx context.Context) (string, error)
	Credits(ctx context.Context, sessionID string) (fidealis.Credits, error)
}

func remainingQuantity(ctx context.Context, source CreditsSource, logger *zap.Logger) (string, error) {
	sessionID, loginErr := source.Login(ctx)
	if loginErr != nil {
		logger.Warn(logEventFidealisLoginFailed, zap.Error(loginErr))
		return "", fmt.Errorf("%w: %w", errCreditsLogin, loginErr)
	}
	credits, creditsErr := source.Credits(ctx, sessionID)
	if creditsErr != nil {
		logger.Warn(logEventFidealisCreditsFailed, zap.Error(creditsErr))
		return "", fmt.Errorf("%w: %w", errCreditsLookup, creditsErr)
	}
	return credits.Quantity(fidealis.DepositProductID), nil
}

type CreditsHandlers struct {
	source CreditsSource
	logger *zap.Logger
}

func NewCreditsHandlers(source CreditsSource, logger *zap.Logger) *CreditsHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CreditsHandlers{source: source, logger: logger}
}

func (handlers *CreditsHandlers) GetCredits(context *gin.Context) {
	quantity, quantityErr := remainingQuantity(context.Request.Context(), handlers.source, handlers.logger)
	switch {
	case errors.Is(quantityErr, errCreditsLogin):
		context.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueLoginFailed, jsonKeyMessage: messageLoginFailed})
		return
	case quantityErr != nil:
		context.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueCreditsUnavailable, jsonKeyMessage: messageCreditsFailed})
		return
	}
	context.JSON(http.StatusOK, gin.H{jsonKeyProductID: fidealis.DepositProductID, jsonKeyQuantity: quantity})
}
