package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/store"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Repository struct {
	store *store.Store
	now   func() time.Time
}

func NewRepository(s *store.Store) *Repository {
	return &Repository{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// Create appends c. The identifier is assigned by the store; status defaults
// to completed and the date to now.
func (r *Repository) Create(ctx context.Context, c models.Consultation) (*models.Consultation, error) {
	c.ID = 0
	if c.Status == "" {
		c.Status = models.ConsultationStatusCompleted
	}
	if c.Date.IsZero() {
		c.Date = r.now()
	}
	if c.Prescription == nil {
		c.Prescription = datatypes.JSONSlice[string]{}
	}
	if c.Acts == nil {
		c.Acts = datatypes.JSONSlice[string]{}
	}

	err := r.store.Write(ctx, func(tx *gorm.DB) error {
		return tx.Create(&c).Error
	})
	if err != nil {
		return nil, fmt.Errorf("create consultation: %w", err)
	}
	return &c, nil
}

func (r *Repository) ListByPatient(ctx context.Context, patientID string) ([]models.Consultation, error) {
	out := []models.Consultation{}
	err := r.store.Read(ctx).
		Where("patient_id = ?", patientID).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("list consultations for %s: %w", patientID, err)
	}
	return out, nil
}
