package handlers

import (
	"context"
	"encoding/csv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"catalog-import-service/internal/models"
	"catalog-import-service/internal/repository"
)

// MockImportRepository is a mock implementation of ImportRepositoryInterface
type MockImportRepository struct {
	mock.Mock
}

var _ repository.ImportRepositoryInterface = (*MockImportRepository)(nil)

func (m *MockImportRepository) CreateJob(ctx context.Context, job *models.ImportJob) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockImportRepository) GetJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.ImportJob, error) {
	args := m.Called(ctx, tenantID, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ImportJob), args.Error(1)
}

func (m *MockImportRepository) ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]models.ImportJob, int64, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	return args.Get(0).([]models.ImportJob), args.Get(1).(int64), args.Error(2)
}

func (m *MockImportRepository) UpdateJobStatus(ctx context.Context, job *models.ImportJob, status models.JobStatus, summary *models.ImportSummary) error {
	args := m.Called(ctx, job, status, summary)
	return args.Error(0)
}

func (m *MockImportRepository) InsertRows(ctx context.Context, rows []models.ImportRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockImportRepository) UpdateRowValidation(ctx context.Context, rows []models.ImportRow) error {
	args := m.Called(ctx, rows)
	return args.Error(0)
}

func (m *MockImportRepository) ListRows(ctx context.Context, jobID uuid.UUID, status models.RowStatus) ([]models.ImportRow, error) {
	args := m.Called(ctx, jobID, status)
	return args.Get(0).([]models.ImportRow), args.Error(1)
}

func (m *MockImportRepository) ExistingProductsByUPID(ctx context.Context, tenantID string, upids []string) (map[string]uuid.UUID, error) {
	args := m.Called(ctx, tenantID, upids)
	return args.Get(0).(map[string]uuid.UUID), args.Error(1)
}

func (m *MockImportRepository) InsertStagingBatch(ctx context.Context, jobID uuid.UUID, batch repository.StagingBatch) (*repository.StagingBatchResult, error) {
	args := m.Called(ctx, jobID, batch)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.StagingBatchResult), args.Error(1)
}

func (m *MockImportRepository) PromoteStagingToCatalog(ctx context.Context, tenantID string, jobID uuid.UUID) (int, int, error) {
	args := m.Called(ctx, tenantID, jobID)
	return args.Int(0), args.Int(1), args.Error(2)
}

func (m *MockImportRepository) DiscardStaging(ctx context.Context, jobID uuid.UUID) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func exportContext(t *testing.T, jobID uuid.UUID) (*gin.Context, *httptest.ResponseRecorder) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+jobID.String()+"/errors", nil)
	c.Params = gin.Params{{Key: "id", Value: jobID.String()}}
	c.Set("tenant_id", "tenant-123")
	return c, w
}

// ===========================================
// Failed-Rows Export Tests
// ===========================================

func TestExportFailedRows_AliasedHeadersRoundTrip(t *testing.T) {
	mockRepo := new(MockImportRepository)
	h := NewImportHandler(nil, mockRepo)

	jobID := uuid.New()
	errMsg := "sku 'x y' has an invalid format"
	mockRepo.On("GetJob", mock.Anything, "tenant-123", jobID).
		Return(&models.ImportJob{ID: jobID, TenantID: "tenant-123", Status: models.JobStatusValidated}, nil)
	// Raw keeps the file's original header spellings, not canonical names
	mockRepo.On("ListRows", mock.Anything, jobID, models.RowStatusInvalid).
		Return([]models.ImportRow{
			{
				JobID:     jobID,
				RowNumber: 2,
				Status:    models.RowStatusInvalid,
				Error:     &errMsg,
				Raw: models.JSON{
					"Product Name": "Shirt",
					"UPID":         "UP-1001",
					"SKU":          "x y",
					"Unit Price":   "19.99",
				},
			},
		}, nil)

	c, w := exportContext(t, jobID)
	h.ExportFailedRows(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "failed_rows.csv")

	records, err := csv.NewReader(strings.NewReader(w.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)

	byColumn := make(map[string]string, len(records[0]))
	for i, name := range records[0] {
		byColumn[name] = records[1][i]
	}
	assert.Equal(t, "2", byColumn["row_number"])
	assert.Equal(t, "Shirt", byColumn["name"])
	assert.Equal(t, "UP-1001", byColumn["upid"])
	assert.Equal(t, "x y", byColumn["sku"])
	assert.Equal(t, "19.99", byColumn["price"])
	assert.Equal(t, errMsg, byColumn["error"])
}

func TestExportFailedRows_UnknownJobIs404(t *testing.T) {
	mockRepo := new(MockImportRepository)
	h := NewImportHandler(nil, mockRepo)

	jobID := uuid.New()
	mockRepo.On("GetJob", mock.Anything, "tenant-123", jobID).Return(nil, assert.AnError)

	c, w := exportContext(t, jobID)
	h.ExportFailedRows(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
	mockRepo.AssertNotCalled(t, "ListRows", mock.Anything, mock.Anything, mock.Anything)
}
