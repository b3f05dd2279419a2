package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"catalog-import-service/internal/importer"
	"catalog-import-service/internal/middleware"
	"catalog-import-service/internal/models"
	"catalog-import-service/internal/parser"
	"catalog-import-service/internal/repository"
	"catalog-import-service/internal/schema"
)

// MaxUploadBytes is the transport-level multipart cap; the parser carries a
// much higher ceiling for storage-fed imports, but this is the effective
// limit for end users.
const MaxUploadBytes = 50 << 20 // 50 MB

type ImportHandler struct {
	orchestrator *importer.Orchestrator
	repo         repository.ImportRepositoryInterface
}

func NewImportHandler(orchestrator *importer.Orchestrator, repo repository.ImportRepositoryInterface) *ImportHandler {
	return &ImportHandler{
		orchestrator: orchestrator,
		repo:         repo,
	}
}

// StartImport accepts a CSV or Excel upload and starts the validation phase
// POST /api/v1/imports
func (h *ImportHandler) StartImport(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	userID := middleware.GetUserID(c)

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadBytes)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "FILE_REQUIRED",
				Message: "Please upload a CSV or Excel file",
			},
		})
		return
	}
	defer file.Close()

	mode := models.ImportMode(c.DefaultPostForm("mode", string(models.ImportModeCreateOnly)))
	if mode != models.ImportModeCreateOnly && mode != models.ImportModeCreateAndEnrich {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "INVALID_MODE",
				Message: fmt.Sprintf("mode must be %s or %s", models.ImportModeCreateOnly, models.ImportModeCreateAndEnrich),
			},
		})
		return
	}

	// Optional worksheet name for Excel uploads; the default sheet policy
	// applies when empty.
	sheet := c.PostForm("sheet")

	job, err := h.orchestrator.StartJob(c.Request.Context(), tenantID, userID, header.Filename, mode, sheet, file, header.Size)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error: models.Error{
				Code:    "IMPORT_REJECTED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusAccepted, models.SuccessResponse{
		Success: true,
		Data:    job,
	})
}

// ListImports lists the tenant's import jobs
// GET /api/v1/imports
func (h *ImportHandler) ListImports(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	jobs, total, err := h.repo.ListJobs(c.Request.Context(), tenantID, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "DB_ERROR", Message: "Failed to list import jobs"},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    jobs,
		"total":   total,
	})
}

// GetImport returns one job's status and summary
// GET /api/v1/imports/:id
func (h *ImportHandler) GetImport(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Invalid job id"},
		})
		return
	}

	job, err := h.repo.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "NOT_FOUND", Message: "Import job not found"},
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: job})
}

// GetImportRows returns a job's rows, optionally filtered by status
// GET /api/v1/imports/:id/rows?status=INVALID
func (h *ImportHandler) GetImportRows(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Invalid job id"},
		})
		return
	}

	if _, err := h.repo.GetJob(c.Request.Context(), tenantID, jobID); err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "NOT_FOUND", Message: "Import job not found"},
		})
		return
	}

	rows, err := h.repo.ListRows(c.Request.Context(), jobID, models.RowStatus(c.Query("status")))
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "DB_ERROR", Message: "Failed to list rows"},
		})
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{Success: true, Data: rows})
}

// ExportFailedRows downloads the job's INVALID rows as CSV, one error
// column appended, so the user can fix and re-upload
// GET /api/v1/imports/:id/errors
func (h *ImportHandler) ExportFailedRows(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Invalid job id"},
		})
		return
	}

	job, err := h.repo.GetJob(c.Request.Context(), tenantID, jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "NOT_FOUND", Message: "Import job not found"},
		})
		return
	}

	rows, err := h.repo.ListRows(c.Request.Context(), jobID, models.RowStatusInvalid)
	if err != nil {
		c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "DB_ERROR", Message: "Failed to list rows"},
		})
		return
	}

	headers := []string{"row_number"}
	for _, col := range models.ProductImportColumns() {
		headers = append(headers, col.Name)
	}
	headers = append(headers, "error")

	records := make([][]string, 0, len(rows))
	for _, row := range rows {
		// Raw is keyed by the file's original headers; fold each key to its
		// canonical field so aliased or capitalized columns round-trip.
		fields := make(map[string]string, len(row.Raw))
		for key, v := range row.Raw {
			if s, ok := v.(string); ok {
				fields[schema.CanonicalField(key)] = s
			}
		}
		record := make([]string, 0, len(headers))
		record = append(record, strconv.Itoa(row.RowNumber))
		for _, col := range models.ProductImportColumns() {
			record = append(record, fields[col.Name])
		}
		errMsg := ""
		if row.Error != nil {
			errMsg = *row.Error
		}
		record = append(record, errMsg)
		records = append(records, record)
	}

	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s_failed_rows.csv", job.ID))
	if err := parser.GenerateCSV(c.Writer, headers, records); err != nil {
		c.Status(http.StatusInternalServerError)
	}
}

// CommitImport confirms a VALIDATED job into the commit phase
// POST /api/v1/imports/:id/commit
func (h *ImportHandler) CommitImport(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Invalid job id"},
		})
		return
	}

	if err := h.orchestrator.Confirm(c.Request.Context(), tenantID, jobID); err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "COMMIT_REJECTED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "commit started"})
}

// CancelImport requests cooperative cancellation of a running job
// POST /api/v1/imports/:id/cancel
func (h *ImportHandler) CancelImport(c *gin.Context) {
	tenantID := middleware.GetTenantID(c)
	jobID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "INVALID_ID", Message: "Invalid job id"},
		})
		return
	}

	if err := h.orchestrator.Cancel(c.Request.Context(), tenantID, jobID); err != nil {
		c.JSON(http.StatusConflict, models.ErrorResponse{
			Success: false,
			Error:   models.Error{Code: "CANCEL_REJECTED", Message: err.Error()},
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "cancellation requested"})
}
