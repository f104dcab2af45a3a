package httpapi

import (
	"context"
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/deposit"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/model"
)

const (
	formFieldClientName = "client_name"
	formFieldAddress    = "address"
	formFieldLatitude   = "latitude"
	formFieldLongitude  = "longitude"
	formFieldPhotos     = "photos"

	queryParameterLimit = "limit"

	defaultMaxUploadBytes int64 = 64 << 20

	errorValueInvalidForm      = "invalid_form"
	errorValueIncompleteForm   = "incomplete_form"
	errorValueNoCollages       = "no_collages"
	errorValueDepositLogin     = "fidealis_login_failed"
	errorValueDepositUpload    = "upload_failed"
	errorValueDepositFailed    = "deposit_failed"
	errorValueInvalidLimit     = "invalid_limit"
	errorValueJournalFailed    = "journal_unavailable"
	errorValueUnsupportedPhoto = "unsupported_photo"

	messageIncompleteForm   = "Veuillez remplir tous les champs et télécharger au moins une photo."
	messageNoCollages       = "Aucun collage n'a pu être créé à partir des photos."
	messageUploadFailed     = "Erreur lors de l'envoi des données."
	messageDepositSucceeded = "Données envoyées avec succès !"
	messageUnsupportedPhoto = "Seules les photos JPEG et PNG sont acceptées."

	logEventDepositRequestFailed = "deposit_request_failed"
	logEventJournalListFailed    = "deposit_journal_list_failed"
	logEventPhotoCloseFailed     = "deposit_photo_close_failed"
)

var acceptedPhotoExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
}

// DepositSubmitter runs the deposit workflow for one form submission.
type DepositSubmitter interface {
	Submit(ctx context.Context, submission deposit.Submission) (deposit.Result, error)
}

// DepositLister lists the most recent journal entries.
type DepositLister interface {
	Recent(ctx context.Context, limit int) ([]model.Deposit, error)
}

type DepositHandlers struct {
	submitter      DepositSubmitter
	journal        DepositLister
	logger         *zap.Logger
	maxUploadBytes int64
}

type depositResponse struct {
	Message      string   `json:"message"`
	PhotoCount   int      `json:"photos"`
	CollageCount int      `json:"collages"`
	Warnings     []string `json:"warnings,omitempty"`
}

type depositEntryResponse struct {
	ID           string    `json:"id"`
	ClientName   string    `json:"client_name"`
	Address      string    `json:"address"`
	Latitude     string    `json:"latitude"`
	Longitude    string    `json:"longitude"`
	PhotoCount   int       `json:"photos"`
	CollageCount int       `json:"collages"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewDepositHandlers(submitter DepositSubmitter, journal DepositLister, maxUploadBytes int64, logger *zap.Logger) *DepositHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &DepositHandlers{
		submitter:      submitter,
		journal:        journal,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

// CreateDeposit reads the multipart form and deposits its photographs as collages.
func (handlers *DepositHandlers) CreateDeposit(context *gin.Context) {
	context.Request.Body = http.MaxBytesReader(context.Writer, context.Request.Body, handlers.maxUploadBytes)
	form, formErr := context.MultipartForm()
	if formErr != nil && !errors.Is(formErr, http.ErrNotMultipart) {
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidForm})
		return
	}

	submission := deposit.Submission{
		ClientName: context.PostForm(formFieldClientName),
		Address:    context.PostForm(formFieldAddress),
		Latitude:   context.PostForm(formFieldLatitude),
		Longitude:  context.PostForm(formFieldLongitude),
	}

	var fileHeaders []*multipart.FileHeader
	if form != nil {
		fileHeaders = form.File[formFieldPhotos]
	}
	for _, fileHeader := range fileHeaders {
		if !isAcceptedPhoto(fileHeader.Filename) {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueUnsupportedPhoto, jsonKeyMessage: messageUnsupportedPhoto})
			return
		}
	}

	openedFiles := make([]multipart.File, 0, len(fileHeaders))
	defer func() {
		for _, openedFile := range openedFiles {
			if closeErr := openedFile.Close(); closeErr != nil {
				handlers.logger.Debug(logEventPhotoCloseFailed, zap.Error(closeErr))
			}
		}
	}()
	for _, fileHeader := range fileHeaders {
		openedFile, openErr := fileHeader.Open()
		if openErr != nil {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidForm})
			return
		}
		openedFiles = append(openedFiles, openedFile)
		submission.Photos = append(submission.Photos, deposit.Photo{Name: fileHeader.Filename, Content: openedFile})
	}

	result, submitErr := handlers.submitter.Submit(context.Request.Context(), submission)
	if submitErr != nil {
		handlers.respondSubmitError(context, result, submitErr)
		return
	}
	context.JSON(http.StatusOK, depositResponse{
		Message:      messageDepositSucceeded,
		PhotoCount:   result.PhotoCount,
		CollageCount: result.CollageCount,
		Warnings:     result.Warnings,
	})
}

func (handlers *DepositHandlers) respondSubmitError(context *gin.Context, result deposit.Result, submitErr error) {
	switch {
	case errors.Is(submitErr, deposit.ErrIncompleteForm):
		context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueIncompleteForm, jsonKeyMessage: messageIncompleteForm})
	case errors.Is(submitErr, deposit.ErrNoCollages):
		context.JSON(http.StatusUnprocessableEntity, gin.H{jsonKeyError: errorValueNoCollages, jsonKeyMessage: messageNoCollages, "warnings": result.Warnings})
	case errors.Is(submitErr, deposit.ErrLogin):
		context.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueDepositLogin, jsonKeyMessage: messageLoginFailed})
	case errors.Is(submitErr, deposit.ErrUpload):
		context.JSON(http.StatusBadGateway, gin.H{jsonKeyError: errorValueDepositUpload, jsonKeyMessage: messageUploadFailed})
	default:
		handlers.logger.Error(logEventDepositRequestFailed, zap.Error(submitErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueDepositFailed})
	}
}

// ListDeposits returns the most recent journal entries, newest first.
func (handlers *DepositHandlers) ListDeposits(context *gin.Context) {
	limit := 0
	if rawLimit := strings.TrimSpace(context.Query(queryParameterLimit)); rawLimit != "" {
		parsedLimit, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsedLimit < 0 {
			context.JSON(http.StatusBadRequest, gin.H{jsonKeyError: errorValueInvalidLimit})
			return
		}
		limit = parsedLimit
	}

	deposits, listErr := handlers.journal.Recent(context.Request.Context(), limit)
	if listErr != nil {
		handlers.logger.Error(logEventJournalListFailed, zap.Error(listErr))
		context.JSON(http.StatusInternalServerError, gin.H{jsonKeyError: errorValueJournalFailed})
		return
	}

	entries := make([]depositEntryResponse, 0, len(deposits))
	for _, entry := range deposits {
		entries = append(entries, depositEntryResponse{
			ID:           entry.ID,
			ClientName:   entry.ClientName,
			Address:      entry.Address,
			Latitude:     entry.Latitude,
			Longitude:    entry.Longitude,
			PhotoCount:   entry.PhotoCount,
			CollageCount: entry.CollageCount,
			Status:       entry.Status,
			Error:        entry.Error,
			CreatedAt:    entry.CreatedAt,
		})
	}
	context.JSON(http.StatusOK, gin.H{"deposits": entries})
}

func isAcceptedPhoto(fileName string) bool {
	_, accepted := acceptedPhotoExtensions[strings.ToLower(filepath.Ext(fileName))]
	return accepted
}
