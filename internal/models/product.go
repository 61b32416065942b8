package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SerialType string

const (
	SerialTypeIMEI   SerialType = "imei"
	SerialTypeSerial SerialType = "serial"
	SerialTypeBoth   SerialType = "both"
)

type Product struct {
	ID            uint            `gorm:"primaryKey" json:"id"`
	Name          string          `gorm:"size:150;not null" json:"name"`
	SalePrice     decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"sale_price"`
	PurchasePrice decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"purchase_price"`
	// Stock is only meaningful when RequiresIMEISerial is false; serial-tracked
	// stock is the count of available SerializedUnit rows.
	Stock              int        `gorm:"not null;default:0;check:stock >= 0" json:"stock"`
	HasIMEISerial      bool       `gorm:"not null;default:false" json:"has_imei_serial"`
	IMEISerialType     SerialType `gorm:"size:10" json:"imei_serial_type,omitempty"`
	RequiresIMEISerial bool       `gorm:"not null;default:false" json:"requires_imei_serial"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// SerialTracked reports whether stock for sale is derived from serialized units.
func (p Product) SerialTracked() bool {
	return p.RequiresIMEISerial
}
