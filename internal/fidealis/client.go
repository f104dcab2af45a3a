package fidealis

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

const (
	// DepositBatchSize is the largest number of files sent in a single setDeposit call.
	DepositBatchSize = 12

	callLogin   = "loginUserFromAccountKey"
	callCredits = "getCredits"
	callDeposit = "setDeposit"

	parameterKey         = "key"
	parameterCall        = "call"
	parameterAccountKey  = "accountKey"
	parameterSessionID   = "PHPSESSID"
	parameterProductID   = "product_ID"
	parameterDescription = "description"
	parameterType        = "type"
	parameterHidden      = "hidden"
	parameterSendMail    = "sendmail"
	parameterFileName    = "filename%d"
	parameterFile        = "file%d"

	depositTypeValue     = "deposit"
	depositHiddenValue   = "0"
	depositSendMailValue = "1"

	responseKeySessionID = "PHPSESSID"
	responseKeyQuantity  = "quantity"

	defaultRequestTimeout = 60 * time.Second
	maxResponseBytes      = 1 << 20

	errorMessageMissingBaseURL    = "fidealis: missing api url"
	errorMessageMissingAPIKey     = "fidealis: missing api key"
	errorMessageMissingAccountKey = "fidealis: missing account key"
	errorMessageMissingSessionID  = "fidealis: login response carries no session id"
	errorMessageUnexpectedCredits = "fidealis: unexpected credits payload"
	errorMessageUnexpectedStatus  = "fidealis: unexpected status"
	errorMessageRequest           = "fidealis: request"
	errorMessageDecodeResponse    = "fidealis: decode response"
	errorMessageReadFile          = "fidealis: read file"
	errorMessageBatch             = "fidealis: batch %d"

	logEventBatchFailed = "fidealis_deposit_batch_failed"
	logEventBatchSent   = "fidealis_deposit_batch_sent"
)

var (
	// ErrMissingBaseURL indicates the API url configuration was omitted.
	ErrMissingBaseURL = errors.New(errorMessageMissingBaseURL)
	// ErrMissingAPIKey indicates the API key configuration was omitted.
	ErrMissingAPIKey = errors.New(errorMessageMissingAPIKey)
	// ErrMissingAccountKey indicates the account key configuration was omitted.
	ErrMissingAccountKey = errors.New(errorMessageMissingAccountKey)
	// ErrMissingSessionID indicates the login call succeeded without returning a session.
	ErrMissingSessionID = errors.New(errorMessageMissingSessionID)
	// ErrUnexpectedCredits indicates the credits payload is not an object keyed by product.
	ErrUnexpectedCredits = errors.New(errorMessageUnexpectedCredits)
	// ErrUnexpectedStatus indicates the API answered with an HTTP error status.
	ErrUnexpectedStatus = errors.New(errorMessageUnexpectedStatus)
)

// Config captures Fidealis API credentials.
type Config struct {
	BaseURL    string
	APIKey     string
	AccountKey string
}

// Client talks to the Fidealis deposit API.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	config     Config
	batchSize  int
}

// NewClient validates the configuration and builds a Client.
func NewClient(config Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	normalized := Config{
		BaseURL:    strings.TrimSpace(config.BaseURL),
		APIKey:     strings.TrimSpace(config.APIKey),
		AccountKey: strings.TrimSpace(config.AccountKey),
	}
	if normalized.BaseURL == "" {
		return nil, ErrMissingBaseURL
	}
	if normalized.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if normalized.AccountKey == "" {
		return nil, ErrMissingAccountKey
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		config:     normalized,
		batchSize:  DepositBatchSize,
	}, nil
}

// Login opens an API session from the account key and returns its PHPSESSID.
func (client *Client) Login(ctx context.Context) (string, error) {
	query := url.Values{}
	query.Set(parameterKey, client.config.APIKey)
	query.Set(parameterCall, callLogin)
	query.Set(parameterAccountKey, client.config.AccountKey)

	var payload map[string]any
	if err := client.getJSON(ctx, query, &payload); err != nil {
		return "", err
	}

	sessionID, ok := payload[responseKeySessionID].(string)
	if !ok || strings.TrimSpace(sessionID) == "" {
		return "", ErrMissingSessionID
	}
	return sessionID, nil
}

// Credits fetches the credit balance of every product for the session.
func (client *Client) Credits(ctx context.Context, sessionID string) (Credits, error) {
	query := url.Values{}
	query.Set(parameterKey, client.config.APIKey)
	query.Set(parameterSessionID, sessionID)
	query.Set(parameterCall, callCredits)
	query.Set(parameterProductID, "")

	var payload any
	if err := client.getJSON(ctx, query, &payload); err != nil {
		return nil, err
	}

	products, ok := payload.(map[string]any)
	if !ok {
		return nil, ErrUnexpectedCredits
	}

	credits := make(Credits, len(products))
	for productID, rawEntry := range products {
		entry, isObject := rawEntry.(map[string]any)
		if !isObject {
			continue
		}
		quantity, hasQuantity := entry[responseKeyQuantity]
		if !hasQuantity || quantity == nil {
			continue
		}
		credits[productID] = formatQuantity(quantity)
	}
	return credits, nil
}

// Deposit uploads the files with the description, DepositBatchSize files per call.
// A failed batch does not prevent later batches from being sent; all failures are returned together.
func (client *Client) Deposit(ctx context.Context, sessionID string, description string, filePaths []string) error {
	var depositErr *multierror.Error
	for start := 0; start < len(filePaths); start += client.batchSize {
		end := start + client.batchSize
		if end > len(filePaths) {
			end = len(filePaths)
		}
		batchNumber := start/client.batchSize + 1

		if batchErr := client.sendBatch(ctx, sessionID, description, filePaths[start:end]); batchErr != nil {
			client.logger.Warn(logEventBatchFailed, zap.Int("batch", batchNumber), zap.Error(batchErr))
			depositErr = multierror.Append(depositErr, fmt.Errorf(errorMessageBatch+": %w", batchNumber, batchErr))
			continue
		}
		client.logger.Info(logEventBatchSent, zap.Int("batch", batchNumber), zap.Int("files", end-start))
	}
	return depositErr.ErrorOrNil()
}

func (client *Client) sendBatch(ctx context.Context, sessionID string, description string, filePaths []string) error {
	form := url.Values{}
	form.Set(parameterKey, client.config.APIKey)
	form.Set(parameterSessionID, sessionID)
	form.Set(parameterCall, callDeposit)
	form.Set(parameterDescription, description)
	form.Set(parameterType, depositTypeValue)
	form.Set(parameterHidden, depositHiddenValue)
	form.Set(parameterSendMail, depositSendMailValue)

	for index, filePath := range filePaths {
		contents, readErr := os.ReadFile(filePath)
		if readErr != nil {
			return fmt.Errorf("%s %s: %w", errorMessageReadFile, filePath, readErr)
		}
		position := index + 1
		form.Set(fmt.Sprintf(parameterFileName, position), filepath.Base(filePath))
		form.Set(fmt.Sprintf(parameterFile, position), base64.StdEncoding.EncodeToString(contents))
	}

	request, requestErr := http.NewRequestWithContext(requestContext(ctx), http.MethodPost, client.config.BaseURL, strings.NewReader(form.Encode()))
	if requestErr != nil {
		return fmt.Errorf("%s: %w", errorMessageRequest, requestErr)
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return fmt.Errorf("%s: %w", errorMessageRequest, responseErr)
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))

	return checkStatus(response)
}

func (client *Client) getJSON(ctx context.Context, query url.Values, target any) error {
	request, requestErr := http.NewRequestWithContext(requestContext(ctx), http.MethodGet, client.config.BaseURL+"?"+query.Encode(), nil)
	if requestErr != nil {
		return fmt.Errorf("%s: %w", errorMessageRequest, requestErr)
	}

	response, responseErr := client.httpClient.Do(request)
	if responseErr != nil {
		return fmt.Errorf("%s: %w", errorMessageRequest, responseErr)
	}
	defer response.Body.Close()

	if statusErr := checkStatus(response); statusErr != nil {
		return statusErr
	}

	body, readErr := io.ReadAll(io.LimitReader(response.Body, maxResponseBytes))
	if readErr != nil {
		return fmt.Errorf("%s: %w", errorMessageDecodeResponse, readErr)
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if decodeErr := decoder.Decode(target); decodeErr != nil {
		return fmt.Errorf("%s: %w", errorMessageDecodeResponse, decodeErr)
	}
	return nil
}

func checkStatus(response *http.Response) error {
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: %d", ErrUnexpectedStatus, response.StatusCode)
	}
	return nil
}

func requestContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func formatQuantity(value any) string {
	switch typed := value.(type) {
	case json.Number:
		return typed.String()
	case string:
		return typed
	case bool:
		return strconv.FormatBool(typed)
	default:
		return fmt.Sprint(typed)
	}
}
