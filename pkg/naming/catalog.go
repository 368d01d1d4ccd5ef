package naming

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Local scheme keys. These are also the storage column names.
const (
	KeyID               = "id"
	KeyCIN              = "cin"
	KeyFirstName        = "first_name"
	KeyLastName         = "last_name"
	KeyDateOfBirth      = "date_of_birth"
	KeyEmail            = "email"
	KeyPhone            = "phone"
	KeyAddress          = "address"
	KeyAllergies        = "allergies"
	KeyMedicalHistory   = "medical_history"
	KeyBloodType        = "blood_type"
	KeyEmergencyContact = "emergency_contact"
	KeyCentralID        = "central_id"
	KeyCreatedAt        = "created_at"
	KeyUpdatedAt        = "updated_at"
	KeySyncedAt         = "synced_at"
)

type kind int

const (
	kindString kind = iota
	kindList
	kindTime
)

var fieldKinds = map[string]kind{
	KeyID:               kindString,
	KeyCIN:              kindString,
	KeyFirstName:        kindString,
	KeyLastName:         kindString,
	KeyDateOfBirth:      kindString,
	KeyEmail:            kindString,
	KeyPhone:            kindString,
	KeyAddress:          kindString,
	KeyAllergies:        kindList,
	KeyMedicalHistory:   kindList,
	KeyBloodType:        kindString,
	KeyEmergencyContact: kindString,
	KeyCentralID:        kindString,
	KeyCreatedAt:        kindTime,
	KeyUpdatedAt:        kindTime,
	KeySyncedAt:         kindTime,
}

// Catalog maps each local key to its exchange-scheme names. The first name
// in each list is the one used when rendering; the rest are accepted input
// aliases, consulted in order.
type Catalog struct {
	Fields map[string][]string `yaml:"fields" json:"fields"`
}

// LoadCatalog merges the aliases declared in the YAML file at path into the
// default catalog. An empty path yields the default catalog.
func LoadCatalog(path string) (Catalog, error) {
	cat := DefaultCatalog()
	if path == "" {
		return cat, nil
	}

	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cat, err
	}

	var extra Catalog
	if err := yaml.Unmarshal(content, &extra); err != nil {
		return cat, fmt.Errorf("parsing field catalog: %w", err)
	}

	for local, aliases := range extra.Fields {
		if _, ok := fieldKinds[local]; !ok {
			return cat, fmt.Errorf("field catalog: unknown local field %q", local)
		}
		for _, alias := range aliases {
			if alias == "" || alias == local || contains(cat.Fields[local], alias) {
				continue
			}
			cat.Fields[local] = append(cat.Fields[local], alias)
		}
	}
	return cat, nil
}

func DefaultCatalog() Catalog {
	return Catalog{Fields: map[string][]string{
		KeyID:               {"id"},
		KeyCIN:              {"cin"},
		KeyFirstName:        {"firstName"},
		KeyLastName:         {"lastName"},
		KeyDateOfBirth:      {"dateOfBirth"},
		KeyEmail:            {"email"},
		KeyPhone:            {"phone"},
		KeyAddress:          {"address"},
		KeyAllergies:        {"allergies"},
		KeyMedicalHistory:   {"medicalHistory"},
		KeyBloodType:        {"bloodType"},
		KeyEmergencyContact: {"emergencyContact"},
		KeyCentralID:        {"centralId"},
		KeyCreatedAt:        {"createdAt"},
		KeyUpdatedAt:        {"updatedAt"},
		KeySyncedAt:         {"syncedAt"},
	}}
}

// ExchangeName returns the rendering name for a local key.
func (c Catalog) ExchangeName(local string) string {
	if names := c.Fields[local]; len(names) > 0 {
		return names[0]
	}
	return local
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}
