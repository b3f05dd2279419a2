package models

import (
	"time"

	"github.com/google/uuid"
)

// StagingAction says whether a candidate creates a new catalog record or
// enriches an existing one
type StagingAction string

const (
	StagingActionCreate StagingAction = "CREATE"
	StagingActionUpdate StagingAction = "UPDATE"
)

// StagingProduct is a validated row's product shape, staged ahead of commit
type StagingProduct struct {
	ID               uuid.UUID     `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	JobID            uuid.UUID     `json:"jobId" gorm:"type:uuid;not null;index"`
	TenantID         string        `json:"tenantId" gorm:"not null;index"`
	RowNumber        int           `json:"rowNumber" gorm:"not null"`
	Action           StagingAction `json:"action" gorm:"not null"`
	ExistingEntityID *uuid.UUID    `json:"existingEntityId,omitempty" gorm:"type:uuid"`
	Name             string        `json:"name" gorm:"not null"`
	SKU              string        `json:"sku" gorm:"not null"`
	UPID             string        `json:"upid" gorm:"not null;index"`
	Price            string        `json:"price"`
	Description      *string       `json:"description,omitempty"`
	Brand            *string       `json:"brand,omitempty"`
	ComparePrice     *string       `json:"comparePrice,omitempty"`
	Quantity         *int          `json:"quantity,omitempty"`
	Weight           *string       `json:"weight,omitempty"`
	Tags             *JSON         `json:"tags,omitempty" gorm:"type:jsonb"`
	CreatedAt        time.Time     `json:"createdAt"`
}

func (StagingProduct) TableName() string {
	return "staging_products"
}

// StagingVariant is a variant shape staged alongside its product. It
// references the staging product by row so the commit phase can attach it
// once the product id is known.
type StagingVariant struct {
	ID               uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	JobID            uuid.UUID `json:"jobId" gorm:"type:uuid;not null;index"`
	TenantID         string    `json:"tenantId" gorm:"not null;index"`
	ProductRowNumber int       `json:"productRowNumber" gorm:"not null"`
	SKU              string    `json:"sku" gorm:"not null"`
	Color            *string   `json:"color,omitempty"`
	Size             *string   `json:"size,omitempty"`
	Price            *string   `json:"price,omitempty"`
	Quantity         *int      `json:"quantity,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

func (StagingVariant) TableName() string {
	return "staging_variants"
}

// StagingCandidate is the in-memory result of transforming a VALID row:
// one product plus zero or more variants, consumed exactly once by the
// commit phase.
type StagingCandidate struct {
	RowNumber int
	Product   StagingProduct
	Variants  []StagingVariant
}
