package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/deposit"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/fidealis"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/geocoding"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/geolocation"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/httpapi"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/storage"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/task"
)

const (
	commandUseName                = "server"
	commandShortDescription       = "Run the geolocated deposit form"
	commandLongDescription        = "Launch the HTTP server that geolocates a site, builds photo collages and deposits them with Fidealis"
	missingConfigurationMessage   = "missing required configuration"
	loggerCreationErrorMessage    = "logger"
	logEventListening             = "listening"
	logEventShutdown              = "shutdown"
	logFieldAddress               = "addr"
	loggerContextOpenDatabase     = "open_db"
	loggerContextAutoMigrate      = "migrate"
	loggerContextServer           = "server"
	unexpectedArgumentsMessage    = "unexpected command arguments"
	commandInitializationFailure  = "failed to configure command"
	flagNotDefinedMessage         = "flag %s not defined"
	environmentConfigurationError = "failed to apply environment configuration"
	environmentFileError          = "failed to read environment file"
	invalidRetentionMessage       = "invalid temp retention"
	readHeaderTimeoutSeconds      = 5
	shutdownTimeoutSeconds        = 15
	outboundRequestTimeout        = 60 * time.Second
	sweepInterval                 = 10 * time.Minute
	defaultEnvironmentFile        = ".env"
	environmentFileType           = "env"

	flagNameApplicationAddress  = "app-addr"
	flagNameFidealisURL         = "api-url"
	flagNameFidealisAPIKey      = "api-key"
	flagNameFidealisAccountKey  = "account-key"
	flagNameGoogleAPIKey        = "google-api-key"
	flagNameSessionSecret       = "session-secret"
	flagNameSecureCookies       = "secure-cookies"
	flagNameDatabaseDriverName  = "db-driver"
	flagNameDatabaseDataSource  = "db-dsn"
	flagNameWorkDirectory       = "work-dir"
	flagNameTempRetention       = "temp-retention"
	flagNameMaxUploadMegabytes  = "max-upload-mb"
	flagNameAllowedCORSOrigins  = "cors-origins"
	environmentKeyAppAddress    = "APP_ADDR"
	environmentKeyFidealisURL   = "API_URL"
	environmentKeyFidealisKey   = "API_KEY"
	environmentKeyAccountKey    = "ACCOUNT_KEY"
	environmentKeyGoogleAPIKey  = "GOOGLE_API_KEY"
	environmentKeySessionSecret = "SESSION_SECRET"
	environmentKeySecureCookies = "SECURE_COOKIES"
	environmentKeyDatabaseName  = "DB_DRIVER"
	environmentKeyDatabaseDSN   = "DB_DSN"
	environmentKeyWorkDirectory = "WORK_DIR"
	environmentKeyTempRetention = "TEMP_RETENTION"
	environmentKeyMaxUpload     = "MAX_UPLOAD_MB"
	environmentKeyCORSOrigins   = "CORS_ORIGINS"
	defaultApplicationAddress   = ":8080"
	defaultDatabaseDriverName   = storage.DriverNameSQLite
	defaultDatabaseDataSource   = "file:geodeposit.db"
	defaultTempRetention        = "1h"
	defaultMaxUploadMegabytes   = "64"
	defaultSecureCookies        = "false"
)

// configurationEntry ties a viper key to its command-line flag.
type configurationEntry struct {
	environmentKey string
	flagName       string
	defaultValue   string
	usage          string
}

var configurationEntries = []configurationEntry{
	{environmentKeyAppAddress, flagNameApplicationAddress, defaultApplicationAddress, "address for the HTTP server to listen on"},
	{environmentKeyFidealisURL, flagNameFidealisURL, "", "Fidealis API endpoint"},
	{environmentKeyFidealisKey, flagNameFidealisAPIKey, "", "Fidealis API key"},
	{environmentKeyAccountKey, flagNameFidealisAccountKey, "", "Fidealis account key used to open sessions"},
	{environmentKeyGoogleAPIKey, flagNameGoogleAPIKey, "", "Google Geocoding API key"},
	{environmentKeySessionSecret, flagNameSessionSecret, "", "secret signing the form state cookie"},
	{environmentKeySecureCookies, flagNameSecureCookies, defaultSecureCookies, "mark the form state cookie as Secure"},
	{environmentKeyDatabaseName, flagNameDatabaseDriverName, defaultDatabaseDriverName, "database driver (sqlite)"},
	{environmentKeyDatabaseDSN, flagNameDatabaseDataSource, defaultDatabaseDataSource, "database connection string"},
	{environmentKeyWorkDirectory, flagNameWorkDirectory, "", "directory for temporary photos and collages (defaults to geodeposit under the OS temp dir)"},
	{environmentKeyTempRetention, flagNameTempRetention, defaultTempRetention, "age after which abandoned temporary files are removed"},
	{environmentKeyMaxUpload, flagNameMaxUploadMegabytes, defaultMaxUploadMegabytes, "maximum size of a deposit upload in megabytes"},
	{environmentKeyCORSOrigins, flagNameAllowedCORSOrigins, corsOriginWildcard, "comma-separated origins allowed to call the JSON API"},
}

// ServerConfig captures configuration needed to run the server.
type ServerConfig struct {
	ApplicationAddress     string
	FidealisURL            string
	FidealisAPIKey         string
	FidealisAccountKey     string
	GoogleAPIKey           string
	SessionSecret          string
	SecureCookies          bool
	DatabaseDriverName     string
	DatabaseDataSourceName string
	WorkDirectory          string
	TempRetention          time.Duration
	MaxUploadBytes         int64
	AllowedCORSOrigins     []string
}

// DatabaseOpener opens a database connection using the provided configuration.
type DatabaseOpener func(storage.Config) (*gorm.DB, error)

// ServerApplication constructs and executes the server command.
type ServerApplication struct {
	configurationLoader *viper.Viper
	databaseOpener      DatabaseOpener
	environmentFile     string
}

// NewServerApplication creates a ServerApplication with default dependencies.
func NewServerApplication() *ServerApplication {
	return &ServerApplication{
		configurationLoader: viper.New(),
		databaseOpener:      storage.OpenDatabase,
		environmentFile:     defaultEnvironmentFile,
	}
}

// WithDatabaseOpener overrides the database opener dependency.
func (application *ServerApplication) WithDatabaseOpener(databaseOpener DatabaseOpener) *ServerApplication {
	application.databaseOpener = databaseOpener
	return application
}

// WithEnvironmentFile overrides the dotenv file read before the configuration is resolved.
func (application *ServerApplication) WithEnvironmentFile(path string) *ServerApplication {
	application.environmentFile = path
	return application
}

// Command builds the Cobra command for the server.
func (application *ServerApplication) Command() (*cobra.Command, error) {
	rootCommand := &cobra.Command{
		Use:   commandUseName,
		Short: commandShortDescription,
		Long:  commandLongDescription,
		RunE:  application.runCommand,
	}

	if configurationErr := application.configureCommand(rootCommand); configurationErr != nil {
		return nil, configurationErr
	}

	return rootCommand, nil
}

func (application *ServerApplication) configureCommand(command *cobra.Command) error {
	application.configurationLoader.AutomaticEnv()

	commandFlags := command.Flags()
	for _, entry := range configurationEntries {
		application.configurationLoader.SetDefault(entry.environmentKey, entry.defaultValue)
		commandFlags.String(entry.flagName, entry.defaultValue, entry.usage)
		if bindErr := application.bindFlag(commandFlags, entry.environmentKey, entry.flagName); bindErr != nil {
			return bindErr
		}
		if environmentErr := application.applyEnvironmentConfiguration(commandFlags, entry.environmentKey, entry.flagName); environmentErr != nil {
			return environmentErr
		}
	}

	return nil
}

func (application *ServerApplication) bindFlag(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	flag := flagSet.Lookup(flagName)
	if flag == nil {
		return fmt.Errorf(flagNotDefinedMessage, flagName)
	}

	if bindErr := application.configurationLoader.BindPFlag(environmentKey, flag); bindErr != nil {
		return bindErr
	}

	return nil
}

func (application *ServerApplication) applyEnvironmentConfiguration(flagSet *pflag.FlagSet, environmentKey string, flagName string) error {
	environmentValue, environmentFound := os.LookupEnv(environmentKey)
	if !environmentFound {
		return nil
	}

	if setErr := flagSet.Set(flagName, environmentValue); setErr != nil {
		return fmt.Errorf("%s: %w", environmentConfigurationError, setErr)
	}

	return nil
}

// readEnvironmentFile merges the dotenv file, when present, below flags and process environment.
func (application *ServerApplication) readEnvironmentFile() error {
	path := strings.TrimSpace(application.environmentFile)
	if path == "" {
		return nil
	}
	if _, statErr := os.Stat(path); statErr != nil {
		if errors.Is(statErr, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("%s: %w", environmentFileError, statErr)
	}

	application.configurationLoader.SetConfigFile(path)
	application.configurationLoader.SetConfigType(environmentFileType)
	if readErr := application.configurationLoader.ReadInConfig(); readErr != nil {
		return fmt.Errorf("%s: %w", environmentFileError, readErr)
	}
	return nil
}

func (application *ServerApplication) loadServerConfig() (ServerConfig, error) {
	loader := application.configurationLoader

	retention, retentionErr := time.ParseDuration(strings.TrimSpace(loader.GetString(environmentKeyTempRetention)))
	if retentionErr != nil || retention <= 0 {
		return ServerConfig{}, fmt.Errorf("%s: %q", invalidRetentionMessage, loader.GetString(environmentKeyTempRetention))
	}

	maxUploadMegabytes := loader.GetInt64(environmentKeyMaxUpload)

	return ServerConfig{
		ApplicationAddress:     strings.TrimSpace(loader.GetString(environmentKeyAppAddress)),
		FidealisURL:            strings.TrimSpace(loader.GetString(environmentKeyFidealisURL)),
		FidealisAPIKey:         strings.TrimSpace(loader.GetString(environmentKeyFidealisKey)),
		FidealisAccountKey:     strings.TrimSpace(loader.GetString(environmentKeyAccountKey)),
		GoogleAPIKey:           strings.TrimSpace(loader.GetString(environmentKeyGoogleAPIKey)),
		SessionSecret:          strings.TrimSpace(loader.GetString(environmentKeySessionSecret)),
		SecureCookies:          loader.GetBool(environmentKeySecureCookies),
		DatabaseDriverName:     strings.TrimSpace(loader.GetString(environmentKeyDatabaseName)),
		DatabaseDataSourceName: strings.TrimSpace(loader.GetString(environmentKeyDatabaseDSN)),
		WorkDirectory:          strings.TrimSpace(loader.GetString(environmentKeyWorkDirectory)),
		TempRetention:          retention,
		MaxUploadBytes:         maxUploadMegabytes << 20,
		AllowedCORSOrigins:     splitOrigins(loader.GetString(environmentKeyCORSOrigins)),
	}, nil
}

func (application *ServerApplication) runCommand(command *cobra.Command, arguments []string) error {
	if len(arguments) > 0 {
		return fmt.Errorf("%s: %s", unexpectedArgumentsMessage, strings.Join(arguments, " "))
	}

	if environmentErr := application.readEnvironmentFile(); environmentErr != nil {
		return environmentErr
	}

	serverConfig, configErr := application.loadServerConfig()
	if configErr != nil {
		return configErr
	}

	if validationErr := application.ensureRequiredConfiguration(serverConfig); validationErr != nil {
		return validationErr
	}

	logger, loggerErr := zap.NewProduction()
	if loggerErr != nil {
		return fmt.Errorf("%s: %w", loggerCreationErrorMessage, loggerErr)
	}
	defer func() {
		_ = logger.Sync()
	}()

	database, databaseErr := application.databaseOpener(storage.Config{
		DriverName:     serverConfig.DatabaseDriverName,
		DataSourceName: serverConfig.DatabaseDataSourceName,
	})
	if databaseErr != nil {
		logger.Error(loggerContextOpenDatabase, zap.Error(databaseErr))
		return databaseErr
	}

	if migrateErr := storage.AutoMigrate(database); migrateErr != nil {
		logger.Error(loggerContextAutoMigrate, zap.Error(migrateErr))
		return migrateErr
	}

	router, scheduler, buildErr := buildServer(serverConfig, database, logger)
	if buildErr != nil {
		return buildErr
	}

	runContext, stopSignals := signal.NotifyContext(contextOrBackground(command.Context()), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	scheduler.Start(runContext)
	defer scheduler.Stop()

	httpServer := &http.Server{
		Addr:              serverConfig.ApplicationAddress,
		Handler:           router,
		ReadHeaderTimeout: readHeaderTimeoutSeconds * time.Second,
	}

	serveErrors := make(chan error, 1)
	go func() {
		logger.Info(logEventListening, zap.String(logFieldAddress, serverConfig.ApplicationAddress))
		serveErrors <- httpServer.ListenAndServe()
	}()

	select {
	case serveErr := <-serveErrors:
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error(loggerContextServer, zap.Error(serveErr))
			return serveErr
		}
		return nil
	case <-runContext.Done():
	}

	logger.Info(logEventShutdown)
	shutdownContext, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeoutSeconds*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownContext)
}

// buildServer wires the clients, the deposit workflow and the HTTP routes.
func buildServer(serverConfig ServerConfig, database *gorm.DB, logger *zap.Logger) (*gin.Engine, *task.Scheduler, error) {
	outboundClient := &http.Client{Timeout: outboundRequestTimeout}

	fidealisClient, fidealisErr := fidealis.NewClient(fidealis.Config{
		BaseURL:    serverConfig.FidealisURL,
		APIKey:     serverConfig.FidealisAPIKey,
		AccountKey: serverConfig.FidealisAccountKey,
	}, outboundClient, logger)
	if fidealisErr != nil {
		return nil, nil, fidealisErr
	}

	journal, journalErr := storage.NewDepositJournal(database)
	if journalErr != nil {
		return nil, nil, journalErr
	}

	stateStore, stateErr := httpapi.NewFormStateStore(serverConfig.SessionSecret, serverConfig.SecureCookies, logger)
	if stateErr != nil {
		return nil, nil, stateErr
	}

	workDirectory, workDirectoryErr := deposit.EnsureWorkDirectory(serverConfig.WorkDirectory)
	if workDirectoryErr != nil {
		return nil, nil, workDirectoryErr
	}

	sweeper, sweeperErr := task.NewTempSweeper(workDirectory, serverConfig.TempRetention, logger)
	if sweeperErr != nil {
		return nil, nil, sweeperErr
	}

	geocoder := geocoding.NewClient(geocoding.Config{APIKey: serverConfig.GoogleAPIKey}, outboundClient, logger)
	reconciler := geolocation.NewReconciler(geocoder, logger)
	depositService := deposit.NewService(fidealisClient, journal, workDirectory, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpapi.RequestLogger(logger))

	registerFrontendRoutes(router, httpapi.NewFormPageHandlers(fidealisClient, stateStore, logger))
	registerBackendRoutes(
		router,
		newAPICORS(serverConfig.AllowedCORSOrigins),
		httpapi.NewGeolocationHandlers(reconciler, stateStore, logger),
		httpapi.NewCreditsHandlers(fidealisClient, logger),
		httpapi.NewDepositHandlers(depositService, journal, serverConfig.MaxUploadBytes, logger),
	)

	return router, task.NewScheduler(sweepInterval, sweeper.Run), nil
}

func (application *ServerApplication) ensureRequiredConfiguration(configuration ServerConfig) error {
	var missingParameters []string

	if configuration.FidealisURL == "" {
		missingParameters = append(missingParameters, flagNameFidealisURL)
	}

	if configuration.FidealisAPIKey == "" {
		missingParameters = append(missingParameters, flagNameFidealisAPIKey)
	}

	if configuration.FidealisAccountKey == "" {
		missingParameters = append(missingParameters, flagNameFidealisAccountKey)
	}

	if configuration.SessionSecret == "" {
		missingParameters = append(missingParameters, flagNameSessionSecret)
	}

	if len(missingParameters) == 0 {
		return nil
	}

	return fmt.Errorf("%s: %s", missingConfigurationMessage, strings.Join(missingParameters, ", "))
}

func splitOrigins(rawOrigins string) []string {
	var origins []string
	for _, origin := range strings.Split(rawOrigins, ",") {
		trimmedOrigin := strings.TrimSpace(origin)
		if trimmedOrigin != "" {
			origins = append(origins, trimmedOrigin)
		}
	}
	if len(origins) == 0 {
		return []string{corsOriginWildcard}
	}
	return origins
}

func contextOrBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

func main() {
	application := NewServerApplication()
	rootCommand, commandErr := application.Command()
	if commandErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", commandInitializationFailure, commandErr)
		os.Exit(1)
	}

	if executeErr := rootCommand.Execute(); executeErr != nil {
		os.Exit(1)
	}
}
