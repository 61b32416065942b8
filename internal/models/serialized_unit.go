package models

import "time"

type UnitStatus string

const (
	UnitAvailable UnitStatus = "available"
	UnitReserved  UnitStatus = "reserved"
	UnitSold      UnitStatus = "sold"
)

// SerializedUnit is one IMEI/serial tracked item. IMEI and serial numbers are
// globally unique when non-empty (partial unique indexes, see migrations).
type SerializedUnit struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	ProductID    uint       `gorm:"index;not null" json:"product_id"`
	IMEINumber   *string    `gorm:"size:15" json:"imei_number,omitempty"`
	SerialNumber *string    `gorm:"size:50" json:"serial_number,omitempty"`
	Status       UnitStatus `gorm:"size:20;not null;default:'available';index" json:"status"`
	SaleID       *uint      `gorm:"index" json:"sale_id,omitempty"`
	SaleItemID   *uint      `json:"sale_item_id,omitempty"`
	SoldAt       *time.Time `json:"sold_at,omitempty"`

	ReservationToken *string    `gorm:"size:64;index" json:"-"`
	ReservedUntil    *time.Time `gorm:"index" json:"reserved_until,omitempty"`

	Notes     string    `gorm:"size:500" json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (SerializedUnit) TableName() string { return "product_imei_serials" }

// Identifier returns the IMEI if present, otherwise the serial number.
func (u SerializedUnit) Identifier() string {
	if u.IMEINumber != nil && *u.IMEINumber != "" {
		return *u.IMEINumber
	}
	if u.SerialNumber != nil {
		return *u.SerialNumber
	}
	return ""
}
