package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dan9191/bank-feed/internal/models"
	"github.com/Dan9191/bank-feed/internal/parser"
	"github.com/Dan9191/bank-feed/internal/parsers"
	"github.com/Dan9191/bank-feed/internal/repository"
	"github.com/Dan9191/bank-feed/internal/utils"
)

func rent() models.RawTransaction {
	return models.RawTransaction{
		Amount:      "-850.00",
		Currency:    "eur",
		Date:        "2024-03-01",
		Description: "Rent March",
		Reference:   "R-03",
	}
}

func TestImportWithDedupe_CreatesOnce(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, fakeDirectory{"EUR": 978}, testLogger())
	ctx := context.Background()

	first := im.ImportWithDedupe(ctx, []models.RawTransaction{rent()}, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 1, first.Created)
	require.Len(t, first.CreatedIDs, 1)

	stored := store.transaction(first.CreatedIDs[0])
	assert.Equal(t, "EUR", stored.Currency)
	assert.Equal(t, int64(978), stored.CurrencyID)
	assert.Equal(t, models.DirectionDebit, stored.Direction)
	assert.Equal(t, models.BookingBooked, stored.BookingStatus)
	assert.Equal(t, models.StatusUnprocessed, stored.Status)
	assert.Len(t, stored.Fingerprint, 64)

	// same transaction from another source, amount without trailing zeros
	again := rent()
	again.Amount = "-850"
	again.Currency = "EUR"
	second := im.ImportWithDedupe(ctx, []models.RawTransaction{again}, 1, models.SourceStatement, ImportOptions{})
	assert.Equal(t, 0, second.Created)
	assert.Equal(t, 1, second.Duplicates)

	// other tenant is independent
	other := im.ImportWithDedupe(ctx, []models.RawTransaction{rent()}, 2, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 1, other.Created)
}

func TestImportWithDedupe_DuplicateWithinBatch(t *testing.T) {
	im := NewImporter(newMemStore(), nil, testLogger())
	res := im.ImportWithDedupe(context.Background(), []models.RawTransaction{rent(), rent()}, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Duplicates)
}

func TestImportWithDedupe_ExplicitDirectionWins(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil, testLogger())
	rec := rent()
	rec.Amount = "850.00"
	rec.Direction = models.DirectionDebit

	res := im.ImportWithDedupe(context.Background(), []models.RawTransaction{rec}, 1, models.SourceCSV, ImportOptions{})
	require.Equal(t, 1, res.Created)
	assert.Equal(t, "-850", store.transaction(res.CreatedIDs[0]).Amount.String())
}

func TestImportWithDedupe_InvalidRowsDoNotAbort(t *testing.T) {
	im := NewImporter(newMemStore(), nil, testLogger())

	badAmount := rent()
	badAmount.Amount = "12,34,56"
	badDate := rent()
	badDate.Date = "yesterday"
	badCurrency := rent()
	badCurrency.Currency = "EURO"
	badDirection := rent()
	badDirection.Direction = "sideways"
	ok := rent()
	ok.Reference = "R-04"

	res := im.ImportWithDedupe(context.Background(),
		[]models.RawTransaction{badAmount, badDate, badCurrency, badDirection, ok}, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 4, res.Failed)
	require.Len(t, res.Errors, 4)
	assert.Contains(t, res.Errors[0], "record 1")
	assert.Contains(t, res.Errors[0], "invalid amount")
	assert.Contains(t, res.Errors[1], "invalid date")
	assert.Contains(t, res.Errors[2], "invalid currency")
	assert.Contains(t, res.Errors[3], "invalid direction")
}

func TestImportWithDedupe_StoreErrorCountsAsFailed(t *testing.T) {
	store := newMemStore()
	store.insertErr = errors.New("connection reset")
	im := NewImporter(store, nil, testLogger())

	res := im.ImportWithDedupe(context.Background(), []models.RawTransaction{rent()}, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 1, res.Failed)
	assert.Contains(t, res.Errors[0], "connection reset")
}

func TestImportWithDedupe_LimitAndOptions(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil, testLogger())
	accountID := int64(42)

	recs := make([]models.RawTransaction, 5)
	for i := range recs {
		recs[i] = rent()
		recs[i].Reference = string(rune('A' + i))
	}

	res := im.ImportWithDedupe(context.Background(), recs, 1, models.SourceAPI, ImportOptions{
		AccountID: &accountID,
		Limit:     3,
		ImportID:  "imp-1",
	})
	assert.Equal(t, 3, res.Created)
	assert.Equal(t, 2, res.Skipped)

	stored := store.transaction(res.CreatedIDs[0])
	require.NotNil(t, stored.AccountID)
	assert.Equal(t, accountID, *stored.AccountID)
	assert.Equal(t, "imp-1", stored.ImportID)
	assert.Equal(t, models.SourceAPI, stored.Source)
}

func TestImportWithDedupe_Cancelled(t *testing.T) {
	im := NewImporter(newMemStore(), nil, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := im.ImportWithDedupe(ctx, []models.RawTransaction{rent(), rent()}, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Skipped)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "cancelled")
}

func TestImportWithDedupe_BoundsErrors(t *testing.T) {
	im := NewImporter(newMemStore(), nil, testLogger())
	recs := make([]models.RawTransaction, maxResultErrors+10)
	for i := range recs {
		recs[i] = models.RawTransaction{Amount: "x", Currency: "EUR", Date: "2024-01-01"}
	}
	res := im.ImportWithDedupe(context.Background(), recs, 1, models.SourceCSV, ImportOptions{})
	assert.Equal(t, len(recs), res.Failed)
	assert.Len(t, res.Errors, maxResultErrors)
}

func TestIsDuplicate(t *testing.T) {
	store := newMemStore()
	im := NewImporter(store, nil, testLogger())
	ctx := context.Background()

	dup, err := im.IsDuplicate(ctx, rent(), 1, nil)
	require.NoError(t, err)
	assert.False(t, dup)

	im.ImportWithDedupe(ctx, []models.RawTransaction{rent()}, 1, models.SourceCSV, ImportOptions{})

	dup, err = im.IsDuplicate(ctx, rent(), 1, nil)
	require.NoError(t, err)
	assert.True(t, dup)

	_, err = im.IsDuplicate(ctx, models.RawTransaction{Amount: "1", Currency: "EUR", Date: "nope"}, 1, nil)
	assert.Error(t, err)
}

const n26Export = `"Booking Date","Value Date","Partner Name","Partner Iban",Type,"Payment Reference","Account Name","Amount (EUR)","Original Amount","Original Currency","Exchange Rate"
2024-03-01,2024-03-01,"Landlord GmbH",DE89370400440532013000,"Outgoing Transfer","Miete March","Main Account",-850.00,,,
2024-03-02,2024-03-02,"Spotify",,"MasterCard Payment","","Main Account",-9.99,,,
2024-13-45,2024-03-03,"Broken",,"x","REF-BAD","Main Account",-1.00,,,
`

func fileImporterFixture(t *testing.T, store *memStore, notifier ImportNotifier) *FileImporter {
	t.Helper()
	reg, err := parsers.NewRegistry(nil)
	require.NoError(t, err)
	log := testLogger()
	im := NewImporter(store, nil, log)
	ruleSvc := NewRuleService(store, store, nil, log)
	return NewFileImporter(reg, im, NewImportLogger(store, log), store, ruleSvc, notifier, log)
}

func TestImportFile_DetectsAndLogs(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	fi := fileImporterFixture(t, store, notifier)
	ctx := context.Background()

	res, entry, err := fi.ImportFile(ctx, FileImport{TenantID: 1, FileName: "n26.csv", Data: []byte(n26Export)})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Created)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, models.SourceCSV, entry.Source)
	assert.Equal(t, "csv-n26", entry.BankCode)
	assert.Equal(t, models.ImportPartial, entry.Status)
	assert.Equal(t, 3, entry.TotalRows)
	assert.Equal(t, 2, entry.ParsedRows)
	assert.Equal(t, 2, entry.ImportedRows)
	assert.Equal(t, 1, entry.FailedRows)
	assert.NotNil(t, entry.FinishedAt)

	stored, err := store.GetImportLog(ctx, 1, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ImportPartial, stored.Status)

	// re-importing the same file stores nothing new
	res, entry, err = fi.ImportFile(ctx, FileImport{TenantID: 1, FileName: "n26.csv", Data: []byte(n26Export)})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 2, res.Duplicates)
	assert.Equal(t, models.ImportPartial, entry.Status)
	assert.Empty(t, notifier.failed)
}

func TestImportFile_AppliesRules(t *testing.T) {
	store := newMemStore()
	fi := fileImporterFixture(t, store, nil)
	ctx := context.Background()

	require.NoError(t, fi.rules.Create(ctx, 1, &models.MatchingRule{
		Name:       "Rent",
		Active:     true,
		Conditions: []models.Condition{{Field: "description", Operator: "contains", Value: "miete"}},
		Actions:    []models.Action{{Type: "categorize", Params: map[string]string{"category": "housing"}}},
	}))

	res, _, err := fi.ImportFile(ctx, FileImport{TenantID: 1, Format: "csv-n26", FileName: "n26.csv", Data: []byte(n26Export), ApplyRules: true})
	require.NoError(t, err)
	require.Len(t, res.CreatedIDs, 2)

	rentTx := store.transaction(res.CreatedIDs[0])
	assert.Equal(t, "housing", rentTx.Category)
	assert.Equal(t, models.StatusProcessed, rentTx.Status)
	assert.Equal(t, models.StatusUnprocessed, store.transaction(res.CreatedIDs[1]).Status)
}

func TestImportFile_UnknownFormatFails(t *testing.T) {
	store := newMemStore()
	notifier := &recordingNotifier{}
	fi := fileImporterFixture(t, store, notifier)

	_, entry, err := fi.ImportFile(context.Background(), FileImport{TenantID: 1, FileName: "notes.txt", Data: []byte("hello world\n")})
	require.Error(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.ImportFailed, entry.Status)
	require.Len(t, entry.Errors, 1)
	assert.Equal(t, []string{"notes.txt"}, notifier.failed)
}

func TestImportFile_LinksStatementAccount(t *testing.T) {
	store := newMemStore()
	fi := fileImporterFixture(t, store, nil)
	ctx := context.Background()

	acc := &models.Account{TenantID: 1, ExternalID: "ext-1", IBAN: "DE12500105170648489890", Status: models.AccountActive}
	require.NoError(t, store.UpsertAccount(ctx, acc))

	id := fi.statementAccount(ctx, 1, parser.StatementAccount{IBAN: "de12500105170648489890"})
	require.NotNil(t, id)
	assert.Equal(t, acc.ID, *id)
	assert.Nil(t, fi.statementAccount(ctx, 2, parser.StatementAccount{IBAN: "DE12500105170648489890"}))
}

func TestPreviewFile(t *testing.T) {
	store := newMemStore()
	fi := fileImporterFixture(t, store, nil)
	ctx := context.Background()

	preview, err := fi.PreviewFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export)})
	require.NoError(t, err)
	assert.Equal(t, "csv-n26", preview.Format)
	require.Len(t, preview.Rows, 2)
	assert.False(t, preview.Rows[0].Duplicate)
	assert.Len(t, preview.RowErrors, 1)
	assert.Empty(t, store.txs)

	_, _, err = fi.ImportFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export)})
	require.NoError(t, err)

	preview, err = fi.PreviewFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export)})
	require.NoError(t, err)
	assert.True(t, preview.Rows[0].Duplicate)
	assert.True(t, preview.Rows[1].Duplicate)
}

func TestImportWithDedupe_ConcurrentImportsStoreOnce(t *testing.T) {
	db, err := repository.Open(repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sealer, err := utils.NewSealer("concurrent-import-key")
	require.NoError(t, err)
	repo := repository.NewRepository(db, repository.DriverSQLite, sealer)
	ctx := context.Background()
	require.NoError(t, repo.Migrate(ctx))

	// the same rent payment as two different sources format it
	variants := []models.RawTransaction{
		{Amount: "1000", Currency: "EUR", Date: "2024-01-05", Description: "Rent  January!", Reference: "R-1"},
		{Amount: "1000.00", Currency: "eur", Date: "05.01.2024", Description: "rent january", Reference: "r1"},
	}
	im := NewImporter(repo, nil, testLogger())

	const workers = 16
	results := make([]models.ImportResult, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			source := models.SourceCSV
			if i%2 == 1 {
				source = models.SourceStatement
			}
			results[i] = im.ImportWithDedupe(ctx, []models.RawTransaction{variants[i%2]}, 1, source, ImportOptions{})
		}(i)
	}
	wg.Wait()

	var created, duplicates, failed int
	for _, res := range results {
		created += res.Created
		duplicates += res.Duplicates
		failed += res.Failed
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, workers-1, duplicates)
	assert.Equal(t, 0, failed)

	stored, err := repo.ListRecentTransactions(ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestImportFile_RejectsForeignAccount(t *testing.T) {
	store := newMemStore()
	fi := fileImporterFixture(t, store, nil)
	ctx := context.Background()

	foreign := &models.Account{TenantID: 2, ExternalID: "other-1", Status: models.AccountActive}
	require.NoError(t, store.UpsertAccount(ctx, foreign))
	own := &models.Account{TenantID: 1, ExternalID: "own-1", Status: models.AccountActive}
	require.NoError(t, store.UpsertAccount(ctx, own))

	res, entry, err := fi.ImportFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export), AccountID: &foreign.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.Nil(t, res)
	assert.Nil(t, entry)
	assert.Empty(t, store.txs)
	assert.Empty(t, store.logs)

	_, err = fi.PreviewFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export), AccountID: &foreign.ID})
	assert.ErrorIs(t, err, ErrInvalidInput)

	res, _, err = fi.ImportFile(ctx, FileImport{TenantID: 1, Data: []byte(n26Export), AccountID: &own.ID})
	require.NoError(t, err)
	require.Len(t, res.CreatedIDs, 2)
	require.NotNil(t, store.transaction(res.CreatedIDs[0]).AccountID)
	assert.Equal(t, own.ID, *store.transaction(res.CreatedIDs[0]).AccountID)
}
