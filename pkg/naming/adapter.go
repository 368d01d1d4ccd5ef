// Package naming translates patient payloads between the local storage
// scheme (snake_case) and the exchange scheme (camelCase) spoken at the HTTP
// boundary and by the integration broker.
//
// Inbound payloads may mix both schemes. For every field the local key wins;
// an exchange key is only consulted when the local key is absent or empty.
// Outbound rendering is a plain rename.
package naming

import (
	"time"

	"github.com/novacare/clinic-intake/pkg/common/models"
	"gorm.io/datatypes"
)

type Adapter struct {
	catalog Catalog
}

func NewAdapter(catalog Catalog) *Adapter {
	if catalog.Fields == nil {
		catalog = DefaultCatalog()
	}
	return &Adapter{catalog: catalog}
}

// Lookup resolves a single local field from input using scheme precedence.
func (a *Adapter) Lookup(input map[string]interface{}, local string) (interface{}, bool) {
	k, known := fieldKinds[local]
	if !known || input == nil {
		return nil, false
	}

	if raw, ok := input[local]; ok {
		if v, ok := coerce(k, raw); ok {
			return v, true
		}
	}
	for _, key := range a.catalog.Fields[local] {
		if key == local {
			continue
		}
		raw, ok := input[key]
		if !ok {
			continue
		}
		if v, ok := coerce(k, raw); ok {
			return v, true
		}
	}
	return nil, false
}

// Resolve returns every field present in input, keyed by local name.
func (a *Adapter) Resolve(input map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(a.catalog.Fields))
	for local := range a.catalog.Fields {
		if v, ok := a.Lookup(input, local); ok {
			out[local] = v
		}
	}
	return out
}

// Missing returns the exchange names of the required local fields that
// cannot be resolved from input, in the order they were asked for.
func (a *Adapter) Missing(input map[string]interface{}, required ...string) []string {
	var missing []string
	for _, local := range required {
		if _, ok := a.Lookup(input, local); !ok {
			missing = append(missing, a.catalog.ExchangeName(local))
		}
	}
	return missing
}

// Normalize builds a local-scheme patient from input. Unresolvable optional
// lists come back empty and optional scalars nil.
func (a *Adapter) Normalize(input map[string]interface{}) models.Patient {
	p := models.Patient{
		Allergies:      datatypes.JSONSlice[string]{},
		MedicalHistory: datatypes.JSONSlice[string]{},
	}
	Apply(&p, a.Resolve(input))
	return p
}

// Apply copies resolved local fields onto p. Keys outside the catalog are
// ignored.
func Apply(p *models.Patient, fields map[string]interface{}) {
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			applyString(p, key, v)
		case []string:
			applyList(p, key, v)
		case time.Time:
			applyTime(p, key, v)
		}
	}
}

func applyString(p *models.Patient, key, v string) {
	switch key {
	case KeyID:
		p.ID = v
	case KeyCIN:
		p.CIN = v
	case KeyFirstName:
		p.FirstName = v
	case KeyLastName:
		p.LastName = v
	case KeyDateOfBirth:
		p.DateOfBirth = v
	case KeyEmail:
		p.Email = v
	case KeyPhone:
		p.Phone = v
	case KeyAddress:
		p.Address = v
	case KeyBloodType:
		p.BloodType = &v
	case KeyEmergencyContact:
		p.EmergencyContact = &v
	case KeyCentralID:
		p.CentralID = &v
	}
}

func applyList(p *models.Patient, key string, v []string) {
	list := append(datatypes.JSONSlice[string]{}, v...)
	switch key {
	case KeyAllergies:
		p.Allergies = list
	case KeyMedicalHistory:
		p.MedicalHistory = list
	}
}

func applyTime(p *models.Patient, key string, v time.Time) {
	v = v.UTC()
	switch key {
	case KeyCreatedAt:
		p.CreatedAt = v
	case KeyUpdatedAt:
		p.UpdatedAt = v
	case KeySyncedAt:
		p.SyncedAt = &v
	}
}

// LocalValues flattens p into a local-scheme map. Optional fields that are
// unset map to nil.
func LocalValues(p models.Patient) map[string]interface{} {
	return map[string]interface{}{
		KeyID:               p.ID,
		KeyCIN:              p.CIN,
		KeyFirstName:        p.FirstName,
		KeyLastName:         p.LastName,
		KeyDateOfBirth:      p.DateOfBirth,
		KeyEmail:            p.Email,
		KeyPhone:            p.Phone,
		KeyAddress:          p.Address,
		KeyAllergies:        stringList(p.Allergies),
		KeyMedicalHistory:   stringList(p.MedicalHistory),
		KeyBloodType:        optionalString(p.BloodType),
		KeyEmergencyContact: optionalString(p.EmergencyContact),
		KeyCentralID:        optionalString(p.CentralID),
		KeyCreatedAt:        formatTime(p.CreatedAt),
		KeyUpdatedAt:        formatTime(p.UpdatedAt),
		KeySyncedAt:         optionalTime(p.SyncedAt),
	}
}

// ToExchange renders p in the exchange scheme.
func (a *Adapter) ToExchange(p models.Patient) map[string]interface{} {
	local := LocalValues(p)
	out := make(map[string]interface{}, len(local))
	for key, value := range local {
		out[a.catalog.ExchangeName(key)] = value
	}
	return out
}

// ExchangeKeys renames any local-scheme keys in record to their exchange
// names, leaving everything else untouched. A key already present in the
// exchange scheme is never overwritten.
func (a *Adapter) ExchangeKeys(record map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(record))
	for key, value := range record {
		out[key] = value
	}
	for local := range a.catalog.Fields {
		value, ok := record[local]
		if !ok {
			continue
		}
		name := a.catalog.ExchangeName(local)
		if name == local {
			continue
		}
		if _, exists := record[name]; !exists {
			out[name] = value
		}
		delete(out, local)
	}
	return out
}

func stringList(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func optionalString(v *string) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func formatTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func optionalTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
