package store_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/store/storetest"
	"gorm.io/gorm"
)

func TestWriteRollsBackOnError(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Write(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&models.Patient{ID: "p-1", CIN: "AB1"}).Error; err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	var count int64
	if err := s.Read(ctx).Model(&models.Patient{}).Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected rollback, found %d patients", count)
	}
}

func TestWriteSerializesCheckThenInsert(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Write(ctx, func(tx *gorm.DB) error {
				var existing int64
				if err := tx.Model(&models.Patient{}).Where("cin = ?", "AB123456").Count(&existing).Error; err != nil {
					return err
				}
				if existing > 0 {
					return nil
				}
				return tx.Create(&models.Patient{ID: fmt.Sprintf("p-%d", i), CIN: "AB123456"}).Error
			})
		}(i)
	}
	wg.Wait()

	var count int64
	if err := s.Read(ctx).Model(&models.Patient{}).Where("cin = ?", "AB123456").Count(&count).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one record, got %d", count)
	}
}

func TestCINIsUniqueInTheDatabase(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	create := func(p models.Patient) error {
		return s.Write(ctx, func(tx *gorm.DB) error { return tx.Create(&p).Error })
	}
	if err := create(models.Patient{ID: "p-1", CIN: "AB1"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := create(models.Patient{ID: "p-2", CIN: "AB1"}); err == nil {
		t.Fatal("expected the unique index to reject a second row with the same cin")
	}
	for _, id := range []string{"p-3", "p-4"} {
		if err := create(models.Patient{ID: id}); err != nil {
			t.Fatalf("rows without cin must not collide: %v", err)
		}
	}
}

func TestConsultationIDsAreMonotonic(t *testing.T) {
	s := storetest.New(t)
	ctx := context.Background()

	var ids []int64
	for i := 0; i < 3; i++ {
		c := models.Consultation{PatientID: "p-1", Status: models.ConsultationStatusCompleted}
		if err := s.Write(ctx, func(tx *gorm.DB) error { return tx.Create(&c).Error }); err != nil {
			t.Fatalf("create consultation: %v", err)
		}
		ids = append(ids, c.ID)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Fatalf("ids not increasing: %v", ids)
		}
	}
}
