package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductStatus represents the status of a catalog product
type ProductStatus string

const (
	ProductStatusDraft  ProductStatus = "DRAFT"
	ProductStatusActive ProductStatus = "ACTIVE"
)

// Product is the committed catalog record an import promotes staging rows
// into. Identified by (tenant_id, upid) so catalog writes stay idempotent
// across re-runs of the same file.
type Product struct {
	ID           uuid.UUID        `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	TenantID     string           `json:"tenantId" gorm:"not null;uniqueIndex:idx_products_tenant_upid,priority:1"`
	UPID         string           `json:"upid" gorm:"not null;uniqueIndex:idx_products_tenant_upid,priority:2"`
	Name         string           `json:"name" gorm:"not null"`
	SKU          string           `json:"sku" gorm:"not null;index"`
	Price        string           `json:"price"`
	Description  *string          `json:"description,omitempty"`
	Brand        *string          `json:"brand,omitempty"`
	ComparePrice *string          `json:"comparePrice,omitempty"`
	Quantity     *int             `json:"quantity,omitempty"`
	Weight       *string          `json:"weight,omitempty"`
	Tags         *JSON            `json:"tags,omitempty" gorm:"type:jsonb"`
	Status       ProductStatus    `json:"status" gorm:"not null;default:'DRAFT'"`
	Variants     []ProductVariant `json:"variants,omitempty" gorm:"foreignKey:ProductID"`
	CreatedBy    *string          `json:"createdBy,omitempty"`
	UpdatedBy    *string          `json:"updatedBy,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
	DeletedAt    gorm.DeletedAt   `json:"-" gorm:"index"`
}

func (Product) TableName() string {
	return "products"
}

// ProductVariant is a committed variant of a catalog product
type ProductVariant struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProductID uuid.UUID `json:"productId" gorm:"type:uuid;not null;index"`
	TenantID  string    `json:"tenantId" gorm:"not null;uniqueIndex:idx_variants_tenant_sku,priority:1"`
	SKU       string    `json:"sku" gorm:"not null;uniqueIndex:idx_variants_tenant_sku,priority:2"`
	Color     *string   `json:"color,omitempty"`
	Size      *string   `json:"size,omitempty"`
	Price     *string   `json:"price,omitempty"`
	Quantity  *int      `json:"quantity,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (ProductVariant) TableName() string {
	return "product_variants"
}
