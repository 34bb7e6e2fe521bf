package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Table is a dining table in the restaurant floor plan.
type Table struct {
	bun.BaseModel `bun:"table:tables,alias:t"`

	ID        int64       `bun:",pk,autoincrement" json:"id"`
	Name      string      `bun:"name,notnull" json:"name"`
	Capacity  int         `bun:"capacity,notnull" json:"capacity"`
	Section   string      `bun:"section,notnull" json:"section"`
	Status    TableStatus `bun:"status,notnull" json:"status"`
	CreatedAt time.Time   `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time   `bun:"updated_at,nullzero" json:"updated_at"`
}

// MenuCategory groups menu items for display and reporting.
type MenuCategory struct {
	bun.BaseModel `bun:"table:menu_categories,alias:mc"`

	ID           int64     `bun:",pk,autoincrement" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	Description  string    `bun:"description,notnull" json:"description"`
	DisplayOrder int       `bun:"display_order,notnull" json:"display_order"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}

// MenuItem is a sellable dish. Price is a plain VND amount.
type MenuItem struct {
	bun.BaseModel `bun:"table:menu_items,alias:mi"`

	ID           int64           `bun:",pk,autoincrement" json:"id"`
	Name         string          `bun:"name,notnull" json:"name"`
	Price        decimal.Decimal `bun:"price,type:numeric,notnull" json:"price"`
	Description  string          `bun:"description,notnull" json:"description"`
	ImageURL     string          `bun:"image_url,notnull" json:"image_url"`
	IsAvailable  bool            `bun:"is_available,notnull" json:"is_available"`
	CategoryID   *int64          `bun:"category_id" json:"category_id,omitempty"`
	DisplayOrder int             `bun:"display_order,notnull" json:"display_order"`
	CreatedAt    time.Time       `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time       `bun:"updated_at,nullzero" json:"updated_at"`

	Category *MenuCategory `bun:"rel:belongs-to,join:category_id=id" json:"category,omitempty"`
}

// Staff is an employee account.
type Staff struct {
	bun.BaseModel `bun:"table:staff,alias:s"`

	ID           int64     `bun:",pk,autoincrement" json:"id"`
	Name         string    `bun:"name,notnull" json:"name"`
	Username     string    `bun:"username,notnull" json:"username"`
	PasswordHash string    `bun:"password_hash,notnull" json:"-"`
	Role         Role      `bun:"role,notnull" json:"role"`
	CreatedAt    time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt    time.Time `bun:"updated_at,nullzero" json:"updated_at"`
}
