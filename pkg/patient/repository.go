package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrNotFound  = errors.New("patient not found")
	ErrDuplicate = errors.New("patient already exists")
)

// Fields an update request may never touch.
var protectedFields = []string{
	naming.KeyID,
	naming.KeyCreatedAt,
	naming.KeyUpdatedAt,
	naming.KeyCentralID,
	naming.KeySyncedAt,
}

type Repository struct {
	store   *store.Store
	adapter *naming.Adapter
	cache   Cache
	now     func() time.Time
}

func NewRepository(s *store.Store, adapter *naming.Adapter, cache Cache) *Repository {
	if cache == nil {
		cache = NoopCache{}
	}
	return &Repository{
		store:   s,
		adapter: adapter,
		cache:   cache,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (r *Repository) GetByID(ctx context.Context, id string) (*models.Patient, error) {
	if p, ok := r.cache.Get(ctx, idKey(id)); ok {
		return p, nil
	}

	var p models.Patient
	if err := r.store.Read(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err, "get patient "+id)
	}
	r.cache.Set(ctx, idKey(id), &p)
	return &p, nil
}

// GetByCIN returns the local record holding cin.
func (r *Repository) GetByCIN(ctx context.Context, cin string) (*models.Patient, error) {
	cin = strings.TrimSpace(cin)
	if cin == "" {
		return nil, ErrNotFound
	}
	if p, ok := r.cache.Get(ctx, cinKey(cin)); ok {
		return p, nil
	}

	var p models.Patient
	if err := r.store.Read(ctx).Where("cin = ?", cin).First(&p).Error; err != nil {
		return nil, translate(err, "get patient by cin")
	}
	r.cache.Set(ctx, cinKey(cin), &p)
	return &p, nil
}

// List returns patients in creation order. A non-positive limit returns all.
func (r *Repository) List(ctx context.Context, limit int) ([]models.Patient, error) {
	q := r.store.Read(ctx).Order("created_at ASC").Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Patient
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return out, nil
}

// ListUnsynced returns patients that never reached the central registry,
// oldest first. When createdBefore is set, newer records are skipped.
func (r *Repository) ListUnsynced(ctx context.Context, limit int, createdBefore time.Time) ([]models.Patient, error) {
	q := r.store.Read(ctx).
		Where("central_id IS NULL AND synced_at IS NULL").
		Order("created_at ASC")
	if !createdBefore.IsZero() {
		q = q.Where("created_at < ?", createdBefore.UTC())
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Patient
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list unsynced patients: %w", err)
	}
	return out, nil
}

// Create persists p as a new record. A missing ID is replaced by a UUID.
// Central sync state is never accepted from the caller.
func (r *Repository) Create(ctx context.Context, p models.Patient) (*models.Patient, error) {
	var created *models.Patient
	err := r.store.Write(ctx, func(tx *gorm.DB) error {
		var err error
		created, err = r.insert(tx, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, created)
	return created, nil
}

// CreateOrGet behaves like Create unless a record with the same CIN already
// exists, in which case that record is returned and created is false. The
// lookup and the insert happen in one exclusive write section.
func (r *Repository) CreateOrGet(ctx context.Context, p models.Patient) (patient *models.Patient, created bool, err error) {
	err = r.store.Write(ctx, func(tx *gorm.DB) error {
		if cin := strings.TrimSpace(p.CIN); cin != "" {
			var existing models.Patient
			err := tx.Where("cin = ?", cin).First(&existing).Error
			if err == nil {
				patient = &existing
				return nil
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("lookup patient by cin: %w", err)
			}
		}

		inserted, err := r.insert(tx, p)
		if err != nil {
			return err
		}
		patient, created = inserted, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		r.cache.Invalidate(ctx, patient)
	}
	return patient, created, nil
}

func (r *Repository) insert(tx *gorm.DB, p models.Patient) (*models.Patient, error) {
	p.ID = strings.TrimSpace(p.ID)
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CIN = strings.TrimSpace(p.CIN)
	if p.Allergies == nil {
		p.Allergies = datatypes.JSONSlice[string]{}
	}
	if p.MedicalHistory == nil {
		p.MedicalHistory = datatypes.JSONSlice[string]{}
	}
	p.CentralID = nil
	p.SyncedAt = nil
	now := r.now()
	p.CreatedAt = now
	p.UpdatedAt = now

	var count int64
	if err := tx.Model(&models.Patient{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("check patient id: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("id %s: %w", p.ID, ErrDuplicate)
	}
	if p.CIN != "" {
		if err := tx.Model(&models.Patient{}).Where("cin = ?", p.CIN).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("check patient cin: %w", err)
		}
		if count > 0 {
			return nil, fmt.Errorf("cin %s: %w", p.CIN, ErrDuplicate)
		}
	}

	if err := tx.Create(&p).Error; err != nil {
		return nil, translate(err, "create patient")
	}
	return &p, nil
}

// Update overwrites the fields present in input (either naming scheme).
// Identity, timestamps and sync state are left alone; the CIN can only be
// filled in when the record has none.
func (r *Repository) Update(ctx context.Context, id string, input map[string]interface{}) (*models.Patient, error) {
	fields := r.adapter.Resolve(input)
	for _, key := range protectedFields {
		delete(fields, key)
	}

	var updated models.Patient
	err := r.store.Write(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&updated).Error; err != nil {
			return translate(err, "get patient "+id)
		}

		if cin, ok := fields[naming.KeyCIN].(string); ok {
			if updated.CIN != "" {
				delete(fields, naming.KeyCIN)
			} else {
				var count int64
				if err := tx.Model(&models.Patient{}).Where("cin = ? AND id <> ?", cin, id).Count(&count).Error; err != nil {
					return fmt.Errorf("check patient cin: %w", err)
				}
				if count > 0 {
					return fmt.Errorf("cin %s: %w", cin, ErrDuplicate)
				}
			}
		}

		naming.Apply(&updated, fields)
		updated.UpdatedAt = r.now()
		if err := tx.Save(&updated).Error; err != nil {
			return fmt.Errorf("update patient %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, &updated)
	return &updated, nil
}

// AttachCentralID records the registry identifier returned by a successful
// sync. An identifier that is already set is never replaced.
func (r *Repository) AttachCentralID(ctx context.Context, id, centralID string) (*models.Patient, error) {
	return r.mutate(ctx, id, func(p *models.Patient, now time.Time) {
		if p.Synced() {
			return
		}
		p.CentralID = &centralID
		p.SyncedAt = &now
		p.UpdatedAt = now
	})
}

// MarkSynced stamps the sync time for a record the broker accepted without
// returning an identifier.
func (r *Repository) MarkSynced(ctx context.Context, id string) (*models.Patient, error) {
	return r.mutate(ctx, id, func(p *models.Patient, now time.Time) {
		p.SyncedAt = &now
		p.UpdatedAt = now
	})
}

func (r *Repository) mutate(ctx context.Context, id string, fn func(p *models.Patient, now time.Time)) (*models.Patient, error) {
	var p models.Patient
	err := r.store.Write(ctx, func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", id).First(&p).Error; err != nil {
			return translate(err, "get patient "+id)
		}
		fn(&p, r.now())
		if err := tx.Save(&p).Error; err != nil {
			return fmt.Errorf("update patient %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Invalidate(ctx, &p)
	return &p, nil
}

func translate(err error, op string) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
