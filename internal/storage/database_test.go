package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/geodeposit/internal/model"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/storage"
	"github.com/MarkoPoloResearchLab/geodeposit/internal/testutil"
)

const (
	testClientNameValue              = "Jean Dupont"
	testAddressValue                 = "1 Rue de la Paix, 75002 Paris"
	testUnsupportedDriverName        = "unsupported-driver"
	testUnsupportedDriverDescription = "unsupported driver"
	testMissingDriverDescription     = "missing driver"
	testMissingDataSourceDescription = "missing data source"
)

func openMigratedDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	sqliteDatabase := testutil.NewSQLiteTestDatabase(t)

	database, openErr := storage.OpenDatabase(sqliteDatabase.Configuration())
	require.NoError(t, openErr)
	database = testutil.ConfigureDatabaseLogger(t, database)
	require.NoError(t, storage.AutoMigrate(database))
	return database
}

func newDeposit(t *testing.T, clientName string, status string) model.Deposit {
	t.Helper()
	deposit, err := model.NewDeposit(model.DepositInput{
		ClientName: clientName,
		Address:    testAddressValue,
		Latitude:   "48.8686",
		Longitude:  "2.3318",
		PhotoCount: 3,
		Status:     status,
	})
	require.NoError(t, err)
	return deposit
}

func TestOpenDatabaseWithSQLiteConfiguration(t *testing.T) {
	database := openMigratedDatabase(t)

	deposit := newDeposit(t, testClientNameValue, model.DepositStatusSent)
	require.NoError(t, database.Create(&deposit).Error)

	var fetched model.Deposit
	require.NoError(t, database.First(&fetched, "id = ?", deposit.ID).Error)
	require.Equal(t, testClientNameValue, fetched.ClientName)
	require.Equal(t, testAddressValue, fetched.Address)
	require.False(t, fetched.CreatedAt.IsZero())
}

func TestOpenDatabaseValidation(t *testing.T) {
	sqliteDatabase := testutil.NewSQLiteTestDatabase(t)

	testCases := []struct {
		name              string
		configuration     storage.Config
		expectedRootError error
	}{
		{
			name: testMissingDriverDescription,
			configuration: storage.Config{
				DriverName:     "",
				DataSourceName: sqliteDatabase.DataSourceName(),
			},
			expectedRootError: storage.ErrMissingDatabaseDriverName,
		},
		{
			name: testUnsupportedDriverDescription,
			configuration: storage.Config{
				DriverName:     testUnsupportedDriverName,
				DataSourceName: sqliteDatabase.DataSourceName(),
			},
			expectedRootError: storage.ErrUnsupportedDatabaseDriver,
		},
		{
			name: testMissingDataSourceDescription,
			configuration: storage.Config{
				DriverName:     storage.DriverNameSQLite,
				DataSourceName: "",
			},
			expectedRootError: storage.ErrMissingDataSourceName,
		},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(testingT *testing.T) {
			_, openErr := storage.OpenDatabase(testCase.configuration)
			require.Error(testingT, openErr)
			require.True(testingT, errors.Is(openErr, testCase.expectedRootError))
		})
	}
}

func TestDepositJournalListsNewestFirst(t *testing.T) {
	database := openMigratedDatabase(t)
	journal, journalErr := storage.NewDepositJournal(database)
	require.NoError(t, journalErr)

	first := newDeposit(t, "First", model.DepositStatusSent)
	first.CreatedAt = time.Now().Add(-time.Hour)
	second := newDeposit(t, "Second", model.DepositStatusFailed)
	require.NoError(t, journal.Record(context.Background(), first))
	require.NoError(t, journal.Record(context.Background(), second))

	deposits, listErr := journal.Recent(context.Background(), 0)
	require.NoError(t, listErr)
	require.Len(t, deposits, 2)
	require.Equal(t, "Second", deposits[0].ClientName)
	require.Equal(t, model.DepositStatusFailed, deposits[0].Status)
	require.Equal(t, "First", deposits[1].ClientName)

	limited, limitedErr := journal.Recent(context.Background(), 1)
	require.NoError(t, limitedErr)
	require.Len(t, limited, 1)
}

func TestNewDepositJournalRequiresDatabase(t *testing.T) {
	_, journalErr := storage.NewDepositJournal(nil)
	require.ErrorIs(t, journalErr, storage.ErrMissingDatabase)
}
