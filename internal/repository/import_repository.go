package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalog-import-service/internal/models"
)

// JobCacheTTL bounds how stale a cached job status read may be
const JobCacheTTL = 30 * time.Second

// StagingBatch is the fixed shape of one atomic staging write: products,
// their variants, and the matching row-status updates travel together in a
// single transaction.
type StagingBatch struct {
	Products   []models.StagingProduct
	Variants   []models.StagingVariant
	RowUpdates []RowStatusUpdate
}

// RowStatusUpdate marks one row's post-commit status
type RowStatusUpdate struct {
	RowNumber int
	Status    models.RowStatus
}

// StagingBatchResult reports what one atomic batch write did
type StagingBatchResult struct {
	InsertedProductIDs []uuid.UUID
	RowsUpdated        int
}

// ImportRepositoryInterface is the persistence boundary the orchestrator
// drives. InsertStagingBatch is atomic per call.
type ImportRepositoryInterface interface {
	CreateJob(ctx context.Context, job *models.ImportJob) error
	GetJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.ImportJob, error)
	ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]models.ImportJob, int64, error)
	UpdateJobStatus(ctx context.Context, job *models.ImportJob, status models.JobStatus, summary *models.ImportSummary) error

	InsertRows(ctx context.Context, rows []models.ImportRow) error
	UpdateRowValidation(ctx context.Context, rows []models.ImportRow) error
	ListRows(ctx context.Context, jobID uuid.UUID, status models.RowStatus) ([]models.ImportRow, error)

	ExistingProductsByUPID(ctx context.Context, tenantID string, upids []string) (map[string]uuid.UUID, error)
	InsertStagingBatch(ctx context.Context, jobID uuid.UUID, batch StagingBatch) (*StagingBatchResult, error)
	PromoteStagingToCatalog(ctx context.Context, tenantID string, jobID uuid.UUID) (created, updated int, err error)
	DiscardStaging(ctx context.Context, jobID uuid.UUID) error
}

// ImportRepository is the GORM implementation, with a Redis read cache for
// job status lookups since progress pages poll them heavily.
type ImportRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

var _ ImportRepositoryInterface = (*ImportRepository)(nil)

func NewImportRepository(db *gorm.DB, redisClient *redis.Client) *ImportRepository {
	return &ImportRepository{
		db:    db,
		redis: redisClient,
	}
}

func jobCacheKey(tenantID string, jobID uuid.UUID) string {
	return fmt.Sprintf("imports:job:%s:%s", tenantID, jobID.String())
}

func (r *ImportRepository) invalidateJobCache(ctx context.Context, tenantID string, jobID uuid.UUID) {
	if r.redis == nil {
		return
	}
	_ = r.redis.Del(ctx, jobCacheKey(tenantID, jobID)).Err()
}

// CreateJob persists a new PENDING job
func (r *ImportRepository) CreateJob(ctx context.Context, job *models.ImportJob) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	job.CreatedAt = time.Now()
	job.UpdatedAt = time.Now()
	job.StartedAt = time.Now()
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	return r.db.WithContext(ctx).Create(job).Error
}

// GetJob retrieves a job with caching
func (r *ImportRepository) GetJob(ctx context.Context, tenantID string, jobID uuid.UUID) (*models.ImportJob, error) {
	cacheKey := jobCacheKey(tenantID, jobID)

	if r.redis != nil {
		val, err := r.redis.Get(ctx, cacheKey).Result()
		if err == nil {
			var job models.ImportJob
			if err := json.Unmarshal([]byte(val), &job); err == nil {
				return &job, nil
			}
		}
	}

	var job models.ImportJob
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, jobID).
		First(&job).Error; err != nil {
		return nil, err
	}

	if r.redis != nil {
		if data, err := json.Marshal(job); err == nil {
			r.redis.Set(ctx, cacheKey, data, JobCacheTTL)
		}
	}

	return &job, nil
}

// ListJobs returns a tenant's jobs, newest first
func (r *ImportRepository) ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]models.ImportJob, int64, error) {
	var jobs []models.ImportJob
	var total int64

	query := r.db.WithContext(ctx).Model(&models.ImportJob{}).Where("tenant_id = ?", tenantID)
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if err := query.Order("started_at DESC").Limit(limit).Offset(offset).Find(&jobs).Error; err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

// UpdateJobStatus moves a job along the state machine. Illegal transitions
// are rejected; finished_at is written exactly once, on entry to a terminal
// state.
func (r *ImportRepository) UpdateJobStatus(ctx context.Context, job *models.ImportJob, status models.JobStatus, summary *models.ImportSummary) error {
	if !job.Status.CanTransition(status) {
		return fmt.Errorf("illegal job transition %s -> %s", job.Status, status)
	}

	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	if summary != nil {
		updates["summary"] = summary.ToJSON()
	}
	if status.IsTerminal() && job.FinishedAt == nil {
		now := time.Now()
		updates["finished_at"] = now
		job.FinishedAt = &now
	}

	err := r.db.WithContext(ctx).Model(&models.ImportJob{}).
		Where("id = ?", job.ID).
		Updates(updates).Error
	if err != nil {
		return err
	}

	job.Status = status
	if summary != nil {
		job.Summary = summary.ToJSON()
	}
	r.invalidateJobCache(ctx, job.TenantID, job.ID)
	return nil
}

// InsertRows persists all parsed rows in one batch insert
func (r *ImportRepository) InsertRows(ctx context.Context, rows []models.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	now := time.Now()
	for i := range rows {
		if rows[i].ID == uuid.Nil {
			rows[i].ID = uuid.New()
		}
		rows[i].CreatedAt = now
		rows[i].UpdatedAt = now
		if rows[i].Status == "" {
			rows[i].Status = models.RowStatusPending
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, 500).Error
}

// UpdateRowValidation writes each row's validation outcome (normalized map,
// error, status). Rows are only ever mutated once here.
func (r *ImportRepository) UpdateRowValidation(ctx context.Context, rows []models.ImportRow) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range rows {
			updates := map[string]interface{}{
				"normalized": rows[i].Normalized,
				"error":      rows[i].Error,
				"status":     rows[i].Status,
				"updated_at": time.Now(),
			}
			if err := tx.Model(&models.ImportRow{}).
				Where("job_id = ? AND row_number = ?", rows[i].JobID, rows[i].RowNumber).
				Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// ListRows returns a job's rows, optionally filtered by status, in file order
func (r *ImportRepository) ListRows(ctx context.Context, jobID uuid.UUID, status models.RowStatus) ([]models.ImportRow, error) {
	var rows []models.ImportRow
	query := r.db.WithContext(ctx).Where("job_id = ?", jobID)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	if err := query.Order("row_number ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ExistingProductsByUPID looks up which UPIDs already exist in the catalog,
// in one query, so the transformer can decide CREATE vs UPDATE per row
func (r *ImportRepository) ExistingProductsByUPID(ctx context.Context, tenantID string, upids []string) (map[string]uuid.UUID, error) {
	existing := make(map[string]uuid.UUID, len(upids))
	if len(upids) == 0 {
		return existing, nil
	}

	var products []models.Product
	if err := r.db.WithContext(ctx).
		Select("id", "upid").
		Where("tenant_id = ? AND upid IN ?", tenantID, upids).
		Find(&products).Error; err != nil {
		return nil, err
	}
	for _, p := range products {
		existing[p.UPID] = p.ID
	}
	return existing, nil
}

// InsertStagingBatch writes one batch's products, variants and row-status
// updates in a single transaction. The batch fully succeeds or fully rolls
// back; batches already committed by earlier calls are unaffected.
func (r *ImportRepository) InsertStagingBatch(ctx context.Context, jobID uuid.UUID, batch StagingBatch) (*StagingBatchResult, error) {
	result := &StagingBatchResult{
		InsertedProductIDs: make([]uuid.UUID, 0, len(batch.Products)),
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		for i := range batch.Products {
			if batch.Products[i].ID == uuid.Nil {
				batch.Products[i].ID = uuid.New()
			}
			batch.Products[i].JobID = jobID
			batch.Products[i].CreatedAt = now
		}
		if len(batch.Products) > 0 {
			if err := tx.Create(&batch.Products).Error; err != nil {
				return fmt.Errorf("staging products insert failed: %w", err)
			}
		}
		for i := range batch.Variants {
			if batch.Variants[i].ID == uuid.Nil {
				batch.Variants[i].ID = uuid.New()
			}
			batch.Variants[i].JobID = jobID
			batch.Variants[i].CreatedAt = now
		}
		if len(batch.Variants) > 0 {
			if err := tx.Create(&batch.Variants).Error; err != nil {
				return fmt.Errorf("staging variants insert failed: %w", err)
			}
		}

		for _, update := range batch.RowUpdates {
			res := tx.Model(&models.ImportRow{}).
				Where("job_id = ? AND row_number = ?", jobID, update.RowNumber).
				Updates(map[string]interface{}{
					"status":     update.Status,
					"updated_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("row status update failed: %w", res.Error)
			}
			result.RowsUpdated += int(res.RowsAffected)
		}

		for _, p := range batch.Products {
			result.InsertedProductIDs = append(result.InsertedProductIDs, p.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PromoteStagingToCatalog turns a job's staged rows into committed catalog
// records. Writes are idempotent by (tenant_id, upid) so re-promotion after
// a crash cannot duplicate products. Staging rows are removed afterwards.
func (r *ImportRepository) PromoteStagingToCatalog(ctx context.Context, tenantID string, jobID uuid.UUID) (int, int, error) {
	var created, updated int

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var staged []models.StagingProduct
		if err := tx.Where("job_id = ? AND tenant_id = ?", jobID, tenantID).
			Order("row_number ASC").
			Find(&staged).Error; err != nil {
			return fmt.Errorf("failed to load staged products: %w", err)
		}

		var stagedVariants []models.StagingVariant
		if err := tx.Where("job_id = ? AND tenant_id = ?", jobID, tenantID).
			Find(&stagedVariants).Error; err != nil {
			return fmt.Errorf("failed to load staged variants: %w", err)
		}
		variantsByRow := make(map[int][]models.StagingVariant)
		for _, v := range stagedVariants {
			variantsByRow[v.ProductRowNumber] = append(variantsByRow[v.ProductRowNumber], v)
		}

		now := time.Now()
		for _, sp := range staged {
			product := models.Product{
				ID:           uuid.New(),
				TenantID:     tenantID,
				UPID:         sp.UPID,
				Name:         sp.Name,
				SKU:          sp.SKU,
				Price:        sp.Price,
				Description:  sp.Description,
				Brand:        sp.Brand,
				ComparePrice: sp.ComparePrice,
				Quantity:     sp.Quantity,
				Weight:       sp.Weight,
				Tags:         sp.Tags,
				Status:       models.ProductStatusDraft,
				CreatedAt:    now,
				UpdatedAt:    now,
			}

			if sp.Action == models.StagingActionUpdate && sp.ExistingEntityID != nil {
				updates := map[string]interface{}{
					"name":       sp.Name,
					"sku":        sp.SKU,
					"updated_at": now,
				}
				if sp.Price != "" {
					updates["price"] = sp.Price
				}
				if sp.Description != nil {
					updates["description"] = sp.Description
				}
				if sp.Brand != nil {
					updates["brand"] = sp.Brand
				}
				if sp.ComparePrice != nil {
					updates["compare_price"] = sp.ComparePrice
				}
				if sp.Quantity != nil {
					updates["quantity"] = sp.Quantity
				}
				if sp.Weight != nil {
					updates["weight"] = sp.Weight
				}
				if sp.Tags != nil {
					updates["tags"] = sp.Tags
				}
				if err := tx.Model(&models.Product{}).
					Where("tenant_id = ? AND id = ?", tenantID, *sp.ExistingEntityID).
					Updates(updates).Error; err != nil {
					return fmt.Errorf("catalog update failed for upid %s: %w", sp.UPID, err)
				}
				product.ID = *sp.ExistingEntityID
				updated++
			} else {
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "upid"}},
					DoNothing: true,
				}).Create(&product).Error; err != nil {
					return fmt.Errorf("catalog create failed for upid %s: %w", sp.UPID, err)
				}
				created++
			}

			for _, sv := range variantsByRow[sp.RowNumber] {
				variant := models.ProductVariant{
					ID:        uuid.New(),
					ProductID: product.ID,
					TenantID:  tenantID,
					SKU:       sv.SKU,
					Color:     sv.Color,
					Size:      sv.Size,
					Price:     sv.Price,
					Quantity:  sv.Quantity,
					CreatedAt: now,
					UpdatedAt: now,
				}
				if err := tx.Clauses(clause.OnConflict{
					Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "sku"}},
					DoNothing: true,
				}).Create(&variant).Error; err != nil {
					return fmt.Errorf("catalog variant create failed for sku %s: %w", sv.SKU, err)
				}
			}
		}

		if err := tx.Where("job_id = ?", jobID).Delete(&models.StagingVariant{}).Error; err != nil {
			return fmt.Errorf("failed to clear staged variants: %w", err)
		}
		if err := tx.Where("job_id = ?", jobID).Delete(&models.StagingProduct{}).Error; err != nil {
			return fmt.Errorf("failed to clear staged products: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return created, updated, nil
}

// DiscardStaging drops a job's staged rows without touching the catalog.
// Used on failure and cancellation.
func (r *ImportRepository) DiscardStaging(ctx context.Context, jobID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("job_id = ?", jobID).Delete(&models.StagingVariant{}).Error; err != nil {
			return err
		}
		return tx.Where("job_id = ?", jobID).Delete(&models.StagingProduct{}).Error
	})
}
