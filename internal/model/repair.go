package model

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// RepairStatus is the lifecycle status stored in repairs.status.
type RepairStatus string

const (
	StatusPending       RepairStatus = "PENDING"
	StatusConfirmed     RepairStatus = "CONFIRMED"
	StatusPartsOrdered  RepairStatus = "PARTS_ORDERED"
	StatusPartsReceived RepairStatus = "PARTS_RECEIVED"
	StatusScheduled     RepairStatus = "SCHEDULED"
	StatusEnRoute       RepairStatus = "EN_ROUTE"
	StatusArrived       RepairStatus = "ARRIVED"
	StatusInProgress    RepairStatus = "IN_PROGRESS"
	StatusComplete      RepairStatus = "COMPLETE"
	StatusCancelled     RepairStatus = "CANCELLED"
)

// Terminal reports whether no further transition is possible.
func (s RepairStatus) Terminal() bool {
	return s == StatusComplete || s == StatusCancelled
}

// PaymentMethod is stored in repairs.payment_method; empty until chosen.
type PaymentMethod string

const (
	MethodNone  PaymentMethod = ""
	MethodCash  PaymentMethod = "cash"
	MethodLink  PaymentMethod = "link"
	MethodNFC   PaymentMethod = "nfc"
	MethodSplit PaymentMethod = "split"
)

// Valid reports whether m is one of the selectable methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodLink, MethodNFC, MethodSplit:
		return true
	}
	return false
}

// PaymentStatus is stored in repairs.payment_status.
type PaymentStatus string

const (
	PaymentNone      PaymentStatus = ""
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// Issue is one selected problem on the device together with the part
// quality tier the customer picked for it.
type Issue struct {
	Code string `json:"code"`
	Tier string `json:"tier"`
}

// IssueSet is persisted as a JSON array in repairs.issues.
type IssueSet []Issue

// Value implements driver.Valuer.
func (s IssueSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (s *IssueSet) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s = nil
		return nil
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return errors.Errorf("issues: unsupported scan type %T", src)
}

// Repair mirrors the repairs table. JSON names equal the column names so
// that change feed rows and fetched snapshots share one key space.
type Repair struct {
	ID           string   `db:"id" json:"id"`
	CustomerID   uint64   `db:"customer_id" json:"customer_id"`
	TechnicianID *uint64  `db:"technician_id" json:"technician_id"`
	DeviceBrand  string   `db:"device_brand" json:"device_brand"`
	DeviceModel  string   `db:"device_model" json:"device_model"`
	Issues       IssueSet `db:"issues" json:"issues"`

	ScheduledDate time.Time `db:"scheduled_date" json:"scheduled_date"`
	TimeSlot      string    `db:"time_slot" json:"time_slot"`
	Address       string    `db:"address" json:"address"`
	AddressLat    *float64  `db:"address_lat" json:"address_lat"`
	AddressLng    *float64  `db:"address_lng" json:"address_lng"`

	ServiceFeeCents   int64         `db:"service_fee_cents" json:"service_fee_cents"`
	LaborFeeCents     int64         `db:"labor_fee_cents" json:"labor_fee_cents"`
	TotalCents        int64         `db:"total_cents" json:"total_cents"`
	TipCents          int64         `db:"tip_cents" json:"tip_cents"`
	PaymentMethod     PaymentMethod `db:"payment_method" json:"payment_method"`
	PaymentStatus     PaymentStatus `db:"payment_status" json:"payment_status"`
	CashReceivedCents int64         `db:"cash_received_cents" json:"cash_received_cents"`
	CashPortionCents  int64         `db:"cash_portion_cents" json:"cash_portion_cents"`
	CardChargeCents   int64         `db:"card_charge_cents" json:"card_charge_cents"`

	Status       RepairStatus `db:"status" json:"status"`
	PartsInStock *bool        `db:"parts_in_stock" json:"parts_in_stock"` // nil for legacy rows

	IntakeSignatureRef     *string `db:"intake_signature_ref" json:"intake_signature_ref"`
	CompletionSignatureRef *string `db:"completion_signature_ref" json:"completion_signature_ref"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	PaidAt    *time.Time `db:"paid_at" json:"paid_at"`
}

// CardAmountCents is what a hosted link or tap-to-pay leg must charge:
// the card remainder for split, the amount due plus tip otherwise.
func (r Repair) CardAmountCents() int64 {
	if r.PaymentMethod == MethodSplit {
		return r.CardChargeCents
	}
	return r.AmountDueCents() + r.TipCents
}

// AssignedTo reports whether userID is the claimed technician.
func (r Repair) AssignedTo(userID uint64) bool {
	return r.TechnicianID != nil && *r.TechnicianID == userID
}

// AmountDueCents is the total owed before any tip.
func (r Repair) AmountDueCents() int64 {
	if r.TotalCents > 0 {
		return r.TotalCents
	}
	return r.ServiceFeeCents + r.LaborFeeCents
}

// PaymentFields is the persisted state of the payment wizard. It is
// always written as a whole.
type PaymentFields struct {
	TipCents          int64
	Method            PaymentMethod
	Status            PaymentStatus
	CashReceivedCents int64
	CashPortionCents  int64
	CardChargeCents   int64
}

// PaymentFieldsOf extracts the wizard state persisted on r.
func PaymentFieldsOf(r Repair) PaymentFields {
	return PaymentFields{
		TipCents:          r.TipCents,
		Method:            r.PaymentMethod,
		Status:            r.PaymentStatus,
		CashReceivedCents: r.CashReceivedCents,
		CashPortionCents:  r.CashPortionCents,
		CardChargeCents:   r.CardChargeCents,
	}
}
