// Package directory holds the per-tenant reference data that classifies
// transactions: categories, contacts and payment methods.
//
// Lookups go through a bloom filter first, so ids that were never
// registered are rejected without touching the map.
package directory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"tenant-ledger/pkg/ledger"

	"github.com/bits-and-blooms/bloom/v3"
)

// Kind is the type of a directory entry.
type Kind string

const (
	KindCategory      Kind = "category"
	KindContact       Kind = "contact"
	KindPaymentMethod Kind = "payment_method"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindCategory, KindContact, KindPaymentMethod:
		return true
	}
	return false
}

// Entry is one registered reference.
type Entry struct {
	Tenant string `json:"tenant" yaml:"tenant"`
	Kind   Kind   `json:"kind" yaml:"kind"`
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`

	// ParentID nests categories. It must name a registered category.
	ParentID string `json:"parent_id,omitempty" yaml:"parent_id"`
}

func entryKey(tenant string, kind Kind, id string) string {
	return tenant + "/" + string(kind) + "/" + id
}

// maxCategoryDepth bounds parent chains when building paths.
const maxCategoryDepth = 32

// Directory is an in-memory registry that implements ledger.Classifier.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]Entry
	filter  *bloom.BloomFilter

	totalQueries   uint64
	bloomRejected  uint64
	falsePositives uint64
}

// New sizes the bloom filter for expectedItems at the given false positive rate.
func New(expectedItems uint, falsePositiveRate float64) *Directory {
	if expectedItems == 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}
	return &Directory{
		entries: make(map[string]Entry),
		filter:  bloom.NewWithEstimates(expectedItems, falsePositiveRate),
	}
}

// Register adds or renames an entry. Ids are never removed, so references
// held by existing transactions keep resolving.
func (d *Directory) Register(ctx context.Context, e Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch {
	case e.Tenant == "":
		return &ledger.ValidationError{Field: "tenant", Err: ledger.ErrMissingField}
	case !e.Kind.Valid():
		return &ledger.ValidationError{Field: "kind", Err: fmt.Errorf("unknown directory kind %q", e.Kind)}
	case e.ID == "":
		return &ledger.ValidationError{Field: "id", Err: ledger.ErrMissingField}
	case strings.TrimSpace(e.Name) == "":
		return &ledger.ValidationError{Field: "name", Err: ledger.ErrMissingField}
	case e.ParentID != "" && e.Kind != KindCategory:
		return &ledger.ValidationError{Field: "parent_id", Err: fmt.Errorf("only categories nest")}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if e.ParentID != "" {
		if e.ParentID == e.ID {
			return &ledger.ValidationError{Field: "parent_id", Err: fmt.Errorf("category cannot be its own parent")}
		}
		if _, ok := d.entries[entryKey(e.Tenant, KindCategory, e.ParentID)]; !ok {
			return &ledger.ValidationError{Field: "parent_id", Err: fmt.Errorf("%w: category %s", ledger.ErrUnknownReference, e.ParentID)}
		}
		if d.descends(e.Tenant, e.ParentID, e.ID) {
			return &ledger.ValidationError{Field: "parent_id", Err: fmt.Errorf("category %s would form a cycle", e.ID)}
		}
	}

	key := entryKey(e.Tenant, e.Kind, e.ID)
	d.entries[key] = e
	d.filter.AddString(key)
	return nil
}

// descends reports whether category id has ancestor in its parent chain.
func (d *Directory) descends(tenant, id, ancestor string) bool {
	for i := 0; id != "" && i < maxCategoryDepth; i++ {
		if id == ancestor {
			return true
		}
		id = d.entries[entryKey(tenant, KindCategory, id)].ParentID
	}
	return false
}

// Lookup returns the entry, or ledger.ErrNotFound.
func (d *Directory) Lookup(ctx context.Context, kind Kind, tenant, id string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	key := entryKey(tenant, kind, id)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalQueries++
	if !d.filter.TestString(key) {
		d.bloomRejected++
		return Entry{}, fmt.Errorf("%w: %s %s", ledger.ErrNotFound, kind, id)
	}
	e, ok := d.entries[key]
	if !ok {
		d.falsePositives++
		return Entry{}, fmt.Errorf("%w: %s %s", ledger.ErrNotFound, kind, id)
	}
	return e, nil
}

// List returns the entries of a kind for a tenant, sorted by id.
func (d *Directory) List(ctx context.Context, kind Kind, tenant string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []Entry
	for _, e := range d.entries {
		if e.Tenant == tenant && e.Kind == kind {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// Path returns category names from the root down to id.
func (d *Directory) Path(ctx context.Context, tenant, id string) ([]string, error) {
	if _, err := d.Lookup(ctx, KindCategory, tenant, id); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	var path []string
	for i := 0; id != "" && i < maxCategoryDepth; i++ {
		e := d.entries[entryKey(tenant, KindCategory, id)]
		path = append(path, e.Name)
		id = e.ParentID
	}
	slices.Reverse(path)
	return path, nil
}

// Classify implements ledger.Classifier. It checks every referenced id and
// stamps the current names onto the classification.
func (d *Directory) Classify(ctx context.Context, tenant string, c ledger.Classification) (ledger.Classification, error) {
	out := ledger.Classification{
		CategoryID:      c.CategoryID,
		ContactID:       c.ContactID,
		PaymentMethodID: c.PaymentMethodID,
	}

	if c.CategoryID != "" {
		path, err := d.Path(ctx, tenant, c.CategoryID)
		if err != nil {
			return c, unknown("category_id", KindCategory, c.CategoryID, err)
		}
		out.CategoryPath = path
	}
	if c.ContactID != "" {
		e, err := d.Lookup(ctx, KindContact, tenant, c.ContactID)
		if err != nil {
			return c, unknown("contact_id", KindContact, c.ContactID, err)
		}
		out.ContactName = e.Name
	}
	if c.PaymentMethodID != "" {
		e, err := d.Lookup(ctx, KindPaymentMethod, tenant, c.PaymentMethodID)
		if err != nil {
			return c, unknown("payment_method_id", KindPaymentMethod, c.PaymentMethodID, err)
		}
		out.PaymentMethodName = e.Name
	}
	return out, nil
}

func unknown(field string, kind Kind, id string, err error) error {
	if !ledger.IsNotFound(err) {
		return err
	}
	return &ledger.ValidationError{Field: field, Err: fmt.Errorf("%w: %s %s", ledger.ErrUnknownReference, kind, id)}
}

// Stats returns bloom filter effectiveness counters.
func (d *Directory) Stats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s := Stats{
		Entries:        len(d.entries),
		TotalQueries:   d.totalQueries,
		BloomRejected:  d.bloomRejected,
		FalsePositives: d.falsePositives,
		FilterCapacity: d.filter.Cap(),
	}
	if d.totalQueries > 0 {
		s.RejectionRate = float64(d.bloomRejected) / float64(d.totalQueries)
	}
	return s
}

// Stats holds statistics about directory lookups.
type Stats struct {
	Entries        int     `json:"entries"`
	TotalQueries   uint64  `json:"total_queries"`
	BloomRejected  uint64  `json:"bloom_rejected"`
	FalsePositives uint64  `json:"false_positives"`
	RejectionRate  float64 `json:"rejection_rate"`
	FilterCapacity uint    `json:"filter_capacity"`
}
