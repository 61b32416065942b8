package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"pos-backend/internal/apperr"
	"pos-backend/internal/models"
	"pos-backend/internal/store"

	"github.com/google/uuid"
)

const DefaultReservationTTL = 10 * time.Minute

// UnitStore is the slice of store.Store the serialized ledger needs.
type UnitStore interface {
	store.Units
	store.Products
}

// Ledger owns the lifecycle of serialized units:
// available -> reserved -> sold, and back to available on release, expiry
// or sale deletion.
type Ledger struct {
	store UnitStore
	log   *slog.Logger
	ttl   time.Duration
	now   func() time.Time
}

func NewLedger(s UnitStore, log *slog.Logger, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	return &Ledger{store: s, log: log, ttl: ttl, now: time.Now}
}

// WithStore returns a copy of l bound to s, typically a transaction.
func (l *Ledger) WithStore(s UnitStore) *Ledger {
	cp := *l
	cp.store = s
	return &cp
}

// WithClock returns a copy of l that reads time from now.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	cp := *l
	cp.now = now
	return &cp
}

func NewToken() string {
	return uuid.NewString()
}

// -------------------------------------------------
// Format and uniqueness
// -------------------------------------------------

var serialPattern = regexp.MustCompile(`^[A-Za-z0-9\-_.]{3,50}$`)

type FormatResult struct {
	IsValid bool   `json:"is_valid"`
	Error   string `json:"error,omitempty"`
}

// IMEICheckDigit returns the Luhn check digit for a 14 digit IMEI body.
func IMEICheckDigit(body string) (int, error) {
	if len(body) != 14 {
		return 0, errors.New("IMEI body must be 14 digits")
	}
	sum := 0
	for i := 0; i < 14; i++ {
		c := body[i]
		if c < '0' || c > '9' {
			return 0, errors.New("IMEI body must be numeric")
		}
		d := int(c - '0')
		if i%2 == 1 {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
	}
	return (10 - sum%10) % 10, nil
}

func ValidateFormat(value string, kind store.IdentifierKind) FormatResult {
	value = strings.TrimSpace(value)
	switch kind {
	case store.KindIMEI:
		if len(value) != 15 {
			return FormatResult{Error: "IMEI must be exactly 15 digits"}
		}
		check, err := IMEICheckDigit(value[:14])
		if err != nil || value[14] < '0' || value[14] > '9' {
			return FormatResult{Error: "IMEI must contain digits only"}
		}
		if int(value[14]-'0') != check {
			return FormatResult{Error: "IMEI checksum is invalid"}
		}
		return FormatResult{IsValid: true}
	case store.KindSerial:
		if len(value) < 3 || len(value) > 50 {
			return FormatResult{Error: "serial number must be 3 to 50 characters"}
		}
		if !serialPattern.MatchString(value) {
			return FormatResult{Error: "serial number may only contain letters, digits, '-', '_' and '.'"}
		}
		return FormatResult{IsValid: true}
	default:
		return FormatResult{Error: fmt.Sprintf("unknown identifier kind %q", kind)}
	}
}

type DuplicateResult struct {
	IsValid             bool   `json:"is_valid"`
	IsDuplicate         bool   `json:"is_duplicate"`
	ExistingProductID   uint   `json:"existing_product_id,omitempty"`
	ExistingProductName string `json:"existing_product_name,omitempty"`
	Error               string `json:"error,omitempty"`
}

// CheckDuplicate reports whether value is already used by any unit outside
// excludeProductID (0 excludes nothing).
func (l *Ledger) CheckDuplicate(ctx context.Context, value string, kind store.IdentifierKind, excludeProductID uint) (DuplicateResult, error) {
	value = strings.TrimSpace(value)
	if f := ValidateFormat(value, kind); !f.IsValid {
		return DuplicateResult{Error: f.Error}, nil
	}

	units, err := l.store.FindUnitsByIdentifier(ctx, kind, []string{value})
	if err != nil {
		return DuplicateResult{}, apperr.Store("duplicate check failed", err)
	}
	for _, u := range units {
		if excludeProductID != 0 && u.ProductID == excludeProductID {
			continue
		}
		res := DuplicateResult{IsDuplicate: true, ExistingProductID: u.ProductID}
		if p, err := l.store.GetProduct(ctx, u.ProductID); err == nil {
			res.ExistingProductName = p.Name
		}
		return res, nil
	}
	return DuplicateResult{IsValid: true}, nil
}

type BulkIssue struct {
	Value             string `json:"value"`
	Reason            string `json:"reason"`
	ExistingProductID uint   `json:"existing_product_id,omitempty"`
}

type BulkResult struct {
	Valid      []string    `json:"valid"`
	Duplicates []BulkIssue `json:"duplicates"`
	Invalid    []BulkIssue `json:"invalid"`
}

func (r BulkResult) OK() bool {
	return len(r.Duplicates) == 0 && len(r.Invalid) == 0
}

// ValidateBulk partitions values into valid, duplicate and invalid. Repeats
// inside the batch are caught before storage is queried; the first occurrence
// of a repeated value still goes through the regular checks.
func (l *Ledger) ValidateBulk(ctx context.Context, values []string, kind store.IdentifierKind) (BulkResult, error) {
	res := BulkResult{Valid: []string{}, Duplicates: []BulkIssue{}, Invalid: []BulkIssue{}}

	seen := make(map[string]bool, len(values))
	var candidates []string
	for _, raw := range values {
		v := strings.TrimSpace(raw)
		if seen[v] {
			res.Duplicates = append(res.Duplicates, BulkIssue{Value: v, Reason: "repeated in batch"})
			continue
		}
		seen[v] = true
		if f := ValidateFormat(v, kind); !f.IsValid {
			res.Invalid = append(res.Invalid, BulkIssue{Value: v, Reason: f.Error})
			continue
		}
		candidates = append(candidates, v)
	}
	if len(candidates) == 0 {
		return res, nil
	}

	existing, err := l.store.FindUnitsByIdentifier(ctx, kind, candidates)
	if err != nil {
		return res, apperr.Store("bulk duplicate check failed", err)
	}
	taken := make(map[string]uint, len(existing))
	for _, u := range existing {
		taken[store.IdentifierOf(u, kind)] = u.ProductID
	}
	for _, v := range candidates {
		if pid, ok := taken[v]; ok {
			res.Duplicates = append(res.Duplicates, BulkIssue{Value: v, Reason: "already registered", ExistingProductID: pid})
			continue
		}
		res.Valid = append(res.Valid, v)
	}
	return res, nil
}

// UnitInput is one unit to register for a serial-tracked product.
type UnitInput struct {
	IMEINumber   string `json:"imei_number"`
	SerialNumber string `json:"serial_number"`
	Notes        string `json:"notes"`
}

// Register validates inputs against the product's identifier type and
// inserts them as available units, all or nothing.
func (l *Ledger) Register(ctx context.Context, productID uint, inputs []UnitInput) ([]*models.SerializedUnit, error) {
	if len(inputs) == 0 {
		return nil, apperr.Validation("no units given")
	}
	p, err := l.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apperr.NotFound("product not found")
		}
		return nil, apperr.Store("product lookup failed", err)
	}
	if !p.HasIMEISerial {
		return nil, apperr.Validation(fmt.Sprintf("product %q does not track IMEI/serial numbers", p.Name))
	}

	needIMEI := p.IMEISerialType == models.SerialTypeIMEI || p.IMEISerialType == models.SerialTypeBoth
	needSerial := p.IMEISerialType == models.SerialTypeSerial || p.IMEISerialType == models.SerialTypeBoth

	var problems []string
	var imeis, serials []string
	for i, in := range inputs {
		if needIMEI && strings.TrimSpace(in.IMEINumber) == "" {
			problems = append(problems, fmt.Sprintf("unit %d: IMEI is required", i+1))
		}
		if needSerial && strings.TrimSpace(in.SerialNumber) == "" {
			problems = append(problems, fmt.Sprintf("unit %d: serial number is required", i+1))
		}
		if v := strings.TrimSpace(in.IMEINumber); v != "" {
			imeis = append(imeis, v)
		}
		if v := strings.TrimSpace(in.SerialNumber); v != "" {
			serials = append(serials, v)
		}
	}

	batches := []struct {
		kind   store.IdentifierKind
		values []string
	}{{store.KindIMEI, imeis}, {store.KindSerial, serials}}
	for _, b := range batches {
		if len(b.values) == 0 {
			continue
		}
		kind := b.kind
		res, err := l.ValidateBulk(ctx, b.values, kind)
		if err != nil {
			return nil, err
		}
		for _, d := range res.Duplicates {
			problems = append(problems, fmt.Sprintf("%s %s: %s", kind, d.Value, d.Reason))
		}
		for _, d := range res.Invalid {
			problems = append(problems, fmt.Sprintf("%s %s: %s", kind, d.Value, d.Reason))
		}
	}
	if len(problems) > 0 {
		return nil, apperr.Validation("units could not be registered", problems...)
	}

	units := make([]*models.SerializedUnit, 0, len(inputs))
	for _, in := range inputs {
		u := &models.SerializedUnit{
			ProductID: productID,
			Status:    models.UnitAvailable,
			Notes:     strings.TrimSpace(in.Notes),
		}
		if v := strings.TrimSpace(in.IMEINumber); v != "" {
			u.IMEINumber = &v
		}
		if v := strings.TrimSpace(in.SerialNumber); v != "" {
			u.SerialNumber = &v
		}
		units = append(units, u)
	}
	if err := l.store.CreateUnits(ctx, units); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperr.Validation("an IMEI or serial number was registered concurrently, retry")
		}
		return nil, apperr.Store("units could not be saved", err)
	}
	return units, nil
}

// AvailableStock is the sellable quantity of p: the count of available units
// for serial-tracked products, the stock column otherwise.
func (l *Ledger) AvailableStock(ctx context.Context, p *models.Product) (int, error) {
	if !p.SerialTracked() {
		return p.Stock, nil
	}
	n, err := l.store.CountUnits(ctx, p.ID, models.UnitAvailable)
	if err != nil {
		return 0, apperr.Store("unit count failed", err)
	}
	return n, nil
}

// -------------------------------------------------
// Reservation lifecycle
// -------------------------------------------------

// Reserve moves the given available units to reserved under token. Units not
// currently available are skipped, so callers compare the returned count with
// what they asked for.
func (l *Ledger) Reserve(ctx context.Context, ids []uint, token string) (int, error) {
	if token == "" {
		return 0, apperr.Validation("reservation token is required")
	}
	n, err := l.store.ReserveUnits(ctx, ids, token, l.now().Add(l.ttl))
	if err != nil {
		return n, apperr.Store("reservation failed", err)
	}
	l.log.Debug("units reserved", "token", token, "requested", len(ids), "reserved", n)
	return n, nil
}

// Release returns every unit reserved under token to available. Releasing an
// unknown or already released token is a no-op.
func (l *Ledger) Release(ctx context.Context, token string) (int, error) {
	n, err := l.store.ReleaseReservation(ctx, token)
	if err != nil {
		return n, apperr.Store("reservation release failed", err)
	}
	if n > 0 {
		l.log.Debug("reservation released", "token", token, "units", n)
	}
	return n, nil
}

// MarkSold is terminal for the units. Every id must currently be reserved
// under token, otherwise nothing the caller validated can be trusted and an
// IntegrityError is returned.
func (l *Ledger) MarkSold(ctx context.Context, ids []uint, token string, saleID, saleItemID uint) error {
	n, err := l.store.MarkUnitsSold(ctx, ids, token, saleID, saleItemID, l.now())
	if err != nil {
		return apperr.Store("marking units sold failed", err)
	}
	if n != len(ids) {
		return apperr.Integrity(
			fmt.Sprintf("%d of %d units were no longer reserved for this sale", len(ids)-n, len(ids)),
			store.ErrConflict,
		)
	}
	return nil
}

// Restore returns every unit sold under saleID to available.
func (l *Ledger) Restore(ctx context.Context, saleID uint) (int, error) {
	n, err := l.store.RestoreSaleUnits(ctx, saleID)
	if err != nil {
		return n, apperr.Store("unit restore failed", err)
	}
	return n, nil
}

// ReleaseExpired sweeps reservations whose TTL has passed.
func (l *Ledger) ReleaseExpired(ctx context.Context) (int, error) {
	n, err := l.store.ReleaseExpiredReservations(ctx, l.now())
	if err != nil {
		return n, apperr.Store("expired reservation sweep failed", err)
	}
	return n, nil
}
