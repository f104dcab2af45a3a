package deposit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/collage"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/model"
)

const (
	// TempDirectoryPrefix starts the name of every per-submission working directory.
	TempDirectoryPrefix = "temp_"
	// WorkDirectoryName is the directory created below the OS temp dir when no work directory is configured.
	WorkDirectoryName = "geodeposit"

	workDirectoryPermissions = 0o700

	descriptionPattern = "SCELLÉ NUMERIQUE Bénéficiaire: Nom: %s, Adresse: %s, Coordonnées GPS: Latitude %s, Longitude %s"
	photoNamePattern   = "%s_temp%d.jpg"

	errorMessageIncompleteForm = "deposit: incomplete form"
	errorMessagePrepare        = "deposit: prepare files"
	errorMessageNoCollages     = "deposit: no collage could be created"
	errorMessageLogin          = "deposit: login"
	errorMessageUpload         = "deposit: upload"

	logEventSubmissionStarted = "deposit_submission_started"
	logEventSubmissionSent    = "deposit_submission_sent"
	logEventSubmissionFailed  = "deposit_submission_failed"
	logEventCollageWarning    = "deposit_collage_warning"
	logEventCleanupFailed     = "deposit_cleanup_failed"
	logEventJournalFailed     = "deposit_journal_failed"
)

var (
	// ErrIncompleteForm indicates a missing field or a submission without photographs.
	ErrIncompleteForm = errors.New(errorMessageIncompleteForm)
	// ErrNoCollages indicates that none of the photographs could be turned into a collage.
	ErrNoCollages = errors.New(errorMessageNoCollages)
	// ErrLogin indicates the deposit API session could not be opened.
	ErrLogin = errors.New(errorMessageLogin)
	// ErrUpload indicates at least one batch of collages was not accepted.
	ErrUpload = errors.New(errorMessageUpload)
)

// Uploader opens a deposit API session and uploads files with a description.
type Uploader interface {
	Login(ctx context.Context) (string, error)
	Deposit(ctx context.Context, sessionID string, description string, filePaths []string) error
}

// Journal records the outcome of each submission.
type Journal interface {
	Record(ctx context.Context, deposit model.Deposit) error
}

// Photo is one uploaded photograph.
type Photo struct {
	Name    string
	Content io.Reader
}

// Submission carries the values of the deposit form.
type Submission struct {
	ClientName string
	Address    string
	Latitude   string
	Longitude  string
	Photos     []Photo
}

// Result summarises a submission that reached the deposit API.
type Result struct {
	Description  string
	PhotoCount   int
	CollageCount int
	Warnings     []string
}

// Service runs the deposit workflow: store photos, build collages, upload, clean up.
type Service struct {
	uploader      Uploader
	journal       Journal
	workDirectory string
	logger        *zap.Logger
}

// NewService builds a Service writing its temporary files below workDirectory.
func NewService(uploader Uploader, journal Journal, workDirectory string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(workDirectory) == "" {
		workDirectory = DefaultWorkDirectory()
	}
	return &Service{
		uploader:      uploader,
		journal:       journal,
		workDirectory: workDirectory,
		logger:        logger,
	}
}

// DefaultWorkDirectory is the service-owned directory used when WORK_DIR is unset.
func DefaultWorkDirectory() string {
	return filepath.Join(os.TempDir(), WorkDirectoryName)
}

// EnsureWorkDirectory creates workDirectory, or the default one when it is blank, and returns its path.
func EnsureWorkDirectory(workDirectory string) (string, error) {
	resolved := strings.TrimSpace(workDirectory)
	if resolved == "" {
		resolved = DefaultWorkDirectory()
	}
	if mkdirErr := os.MkdirAll(resolved, workDirectoryPermissions); mkdirErr != nil {
		return "", fmt.Errorf("%s: %w", errorMessagePrepare, mkdirErr)
	}
	return resolved, nil
}

// Description renders the text that accompanies the deposited collages.
func Description(clientName string, address string, latitude string, longitude string) string {
	return fmt.Sprintf(descriptionPattern, clientName, address, latitude, longitude)
}

// Submit validates the submission and deposits its collages.
func (service *Service) Submit(ctx context.Context, submission Submission) (Result, error) {
	normalized := normalizeSubmission(submission)
	if !normalized.isComplete() {
		return Result{}, ErrIncompleteForm
	}

	service.logger.Info(logEventSubmissionStarted,
		zap.String("client", normalized.ClientName),
		zap.Int("photos", len(normalized.Photos)),
	)

	result := Result{
		Description: Description(normalized.ClientName, normalized.Address, normalized.Latitude, normalized.Longitude),
		PhotoCount:  len(normalized.Photos),
	}

	submitErr := service.process(ctx, normalized, &result)
	service.recordOutcome(context.WithoutCancel(ctx), normalized, result, submitErr)
	if submitErr != nil {
		service.logger.Warn(logEventSubmissionFailed, zap.String("client", normalized.ClientName), zap.Error(submitErr))
		return result, submitErr
	}

	service.logger.Info(logEventSubmissionSent,
		zap.String("client", normalized.ClientName),
		zap.Int("collages", result.CollageCount),
	)
	return result, nil
}

func (service *Service) process(ctx context.Context, submission Submission, result *Result) error {
	if _, ensureErr := EnsureWorkDirectory(service.workDirectory); ensureErr != nil {
		return ensureErr
	}
	stem := collage.FileStem(submission.ClientName)
	temporaryDirectory, mkdirErr := os.MkdirTemp(service.workDirectory, TempDirectoryPrefix+stem+"_")
	if mkdirErr != nil {
		return fmt.Errorf("%s: %w", errorMessagePrepare, mkdirErr)
	}
	defer service.cleanup(temporaryDirectory, result)

	savedPhotos, saveErr := savePhotos(temporaryDirectory, stem, submission.Photos)
	if saveErr != nil {
		return fmt.Errorf("%s: %w", errorMessagePrepare, saveErr)
	}

	builder := collage.NewBuilder(temporaryDirectory, service.logger)
	collages, collageErr := builder.BuildAll(ctx, savedPhotos, submission.ClientName)
	if collageErr != nil {
		service.logger.Warn(logEventCollageWarning, zap.Error(collageErr))
		result.Warnings = append(result.Warnings, collageErr.Error())
	}
	result.CollageCount = len(collages)
	if len(collages) == 0 {
		return ErrNoCollages
	}

	sessionID, loginErr := service.uploader.Login(ctx)
	if loginErr != nil {
		return fmt.Errorf("%w: %w", ErrLogin, loginErr)
	}

	if uploadErr := service.uploader.Deposit(ctx, sessionID, result.Description, collages); uploadErr != nil {
		return fmt.Errorf("%w: %w", ErrUpload, uploadErr)
	}
	return nil
}

func (service *Service) cleanup(temporaryDirectory string, result *Result) {
	if removeErr := os.RemoveAll(temporaryDirectory); removeErr != nil {
		service.logger.Warn(logEventCleanupFailed, zap.String("path", temporaryDirectory), zap.Error(removeErr))
		result.Warnings = append(result.Warnings, removeErr.Error())
	}
}

func (service *Service) recordOutcome(ctx context.Context, submission Submission, result Result, submitErr error) {
	if service.journal == nil {
		return
	}
	status := model.DepositStatusSent
	errorText := ""
	if submitErr != nil {
		status = model.DepositStatusFailed
		errorText = submitErr.Error()
	}

	entry, entryErr := model.NewDeposit(model.DepositInput{
		ClientName:   submission.ClientName,
		Address:      submission.Address,
		Latitude:     submission.Latitude,
		Longitude:    submission.Longitude,
		PhotoCount:   result.PhotoCount,
		CollageCount: result.CollageCount,
		Status:       status,
		Error:        errorText,
	})
	if entryErr != nil {
		service.logger.Warn(logEventJournalFailed, zap.Error(entryErr))
		return
	}
	if recordErr := service.journal.Record(ctx, entry); recordErr != nil {
		service.logger.Warn(logEventJournalFailed, zap.Error(recordErr))
	}
}

func savePhotos(directory string, stem string, photos []Photo) ([]string, error) {
	saved := make([]string, 0, len(photos))
	for index, photo := range photos {
		path := filepath.Join(directory, fmt.Sprintf(photoNamePattern, stem, index+1))
		if writeErr := writePhoto(path, photo.Content); writeErr != nil {
			return nil, fmt.Errorf("%s: %w", photo.Name, writeErr)
		}
		saved = append(saved, path)
	}
	return saved, nil
}

func writePhoto(path string, content io.Reader) error {
	file, createErr := os.Create(path)
	if createErr != nil {
		return createErr
	}
	_, copyErr := io.Copy(file, content)
	closeErr := file.Close()
	if copyErr != nil {
		return copyErr
	}
	return closeErr
}

func normalizeSubmission(submission Submission) Submission {
	photos := make([]Photo, 0, len(submission.Photos))
	for _, photo := range submission.Photos {
		if photo.Content == nil {
			continue
		}
		photos = append(photos, photo)
	}
	return Submission{
		ClientName: strings.TrimSpace(submission.ClientName),
		Address:    strings.TrimSpace(submission.Address),
		Latitude:   strings.TrimSpace(submission.Latitude),
		Longitude:  strings.TrimSpace(submission.Longitude),
		Photos:     photos,
	}
}

func (submission Submission) isComplete() bool {
	return submission.ClientName != "" &&
		submission.Address != "" &&
		submission.Latitude != "" &&
		submission.Longitude != "" &&
		len(submission.Photos) > 0
}
