package models

import (
	"time"

	"gorm.io/datatypes"
)

// Patient is stored in the local naming scheme. The exchange (camelCase)
// rendering lives in the naming package.
type Patient struct {
	ID               string                      `json:"id" gorm:"primaryKey;column:id"`
	CIN              string                      `json:"cin" gorm:"column:cin;uniqueIndex:uniq_local_patients_cin,where:cin <> ''"`
	FirstName        string                      `json:"first_name" gorm:"column:first_name"`
	LastName         string                      `json:"last_name" gorm:"column:last_name"`
	DateOfBirth      string                      `json:"date_of_birth" gorm:"column:date_of_birth"`
	Email            string                      `json:"email" gorm:"column:email"`
	Phone            string                      `json:"phone" gorm:"column:phone"`
	Address          string                      `json:"address" gorm:"column:address"`
	Allergies        datatypes.JSONSlice[string] `json:"allergies" gorm:"column:allergies"`
	MedicalHistory   datatypes.JSONSlice[string] `json:"medical_history" gorm:"column:medical_history"`
	BloodType        *string                     `json:"blood_type" gorm:"column:blood_type"`
	EmergencyContact *string                     `json:"emergency_contact" gorm:"column:emergency_contact"`
	CentralID        *string                     `json:"central_id" gorm:"column:central_id;index"`
	CreatedAt        time.Time                   `json:"created_at" gorm:"column:created_at"`
	UpdatedAt        time.Time                   `json:"updated_at" gorm:"column:updated_at"`
	SyncedAt         *time.Time                  `json:"synced_at" gorm:"column:synced_at"`
}

func (Patient) TableName() string {
	return "local_patients"
}

// Synced reports whether the record has reached the central registry.
func (p Patient) Synced() bool {
	return p.CentralID != nil && *p.CentralID != ""
}

const ConsultationStatusCompleted = "completed"

type Consultation struct {
	ID           int64                       `json:"id" gorm:"primaryKey;autoIncrement;column:id"`
	PatientID    string                      `json:"patientId" gorm:"column:patient_id;index"`
	PatientCIN   string                      `json:"patientCin" gorm:"column:patient_cin"`
	DoctorID     string                      `json:"doctorId" gorm:"column:doctor_id"`
	DoctorName   string                      `json:"doctorName" gorm:"column:doctor_name"`
	Date         time.Time                   `json:"date" gorm:"column:date"`
	Diagnosis    string                      `json:"diagnosis" gorm:"column:diagnosis"`
	Prescription datatypes.JSONSlice[string] `json:"prescription" gorm:"column:prescription"`
	Notes        string                      `json:"notes" gorm:"column:notes"`
	Acts         datatypes.JSONSlice[string] `json:"acts" gorm:"column:acts"`
	Status       string                      `json:"status" gorm:"column:status"`
}

func (Consultation) TableName() string {
	return "consultations"
}

// Event bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // patient.checked_in, patient.created, patient.synced, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventPatientCheckedIn    = "patient.checked_in"
	EventPatientCreated      = "patient.created"
	EventPatientSynced       = "patient.synced"
	EventPatientSyncFailed   = "patient.sync_failed"
	EventConsultationCreated = "consultation.created"
)
