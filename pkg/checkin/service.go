// Package checkin implements patient check-in reconciliation: the broker is
// asked whether the patient exists anywhere in the enterprise, and only when
// it reports no match is the patient created locally and pushed to the
// central registry. Central propagation failures never fail a check-in.
package checkin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/novacare/clinic-intake/pkg/broker"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/common/logger"
	"github.com/novacare/clinic-intake/pkg/common/models"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
	"github.com/novacare/clinic-intake/pkg/patient"
	"github.com/sirupsen/logrus"
)

type Outcome string

const (
	CheckedInExisting     Outcome = "checked_in_existing"
	CheckedInNew          Outcome = "checked_in_new"
	RejectedMissingFields Outcome = "rejected_missing_fields"
	RejectedMissingToken  Outcome = "rejected_missing_token"
	ServiceUnavailable    Outcome = "service_unavailable"
	UpstreamFailure       Outcome = "upstream_error"
)

var requiredFields = []string{naming.KeyFirstName, naming.KeyLastName, naming.KeyDateOfBirth}

// Broker is the part of the integration broker the workflow depends on.
type Broker interface {
	Search(ctx context.Context, cin string) broker.SearchResult
	SyncToCentral(ctx context.Context, record map[string]interface{}) broker.SyncResult
}

type Result struct {
	Outcome Outcome
	// Patient is rendered in the exchange scheme.
	Patient     map[string]interface{}
	IsNew       bool
	CheckinTime time.Time
	// Synced is true when a new patient reached the central registry during
	// this check-in.
	Synced bool
}

type Service struct {
	broker    Broker
	repo      *patient.Repository
	adapter   *naming.Adapter
	publisher events.Publisher
	now       func() time.Time
}

func NewService(b Broker, repo *patient.Repository, adapter *naming.Adapter, publisher events.Publisher) *Service {
	return &Service{
		broker:    b,
		repo:      repo,
		adapter:   adapter,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CheckIn runs search, then create, then sync, strictly in that order.
func (s *Service) CheckIn(ctx context.Context, input map[string]interface{}) (*Result, error) {
	res, err := s.checkIn(ctx, input)
	if err != nil {
		metrics.IncCheckin(string(outcomeOf(err)))
		return nil, err
	}
	metrics.IncCheckin(string(res.Outcome))
	return res, nil
}

func (s *Service) checkIn(ctx context.Context, input map[string]interface{}) (*Result, error) {
	raw, ok := s.adapter.Lookup(input, naming.KeyCIN)
	cin, _ := raw.(string)
	if !ok || cin == "" {
		return nil, ValidationError{reason: errMissingToken}
	}
	log := logger.WithFields(logrus.Fields{"cin": cin})

	search := s.broker.Search(ctx, cin)
	switch search.Status {
	case broker.Found:
		log.Info("Patient found by broker")
		return s.existing(ctx, s.adapter.ExchangeKeys(search.Record), cin, "central"), nil
	case broker.Unreachable:
		metrics.IncBrokerUnreachable()
		log.WithError(search.Err).Warn("Broker unreachable during check-in")
		return nil, fmt.Errorf("%w: %v", ErrBrokerUnavailable, search.Err)
	case broker.Unexpected:
		metrics.IncBrokerUnexpected()
		log.WithError(search.Err).WithField("status_code", search.StatusCode).Error("Unexpected broker search response")
		return nil, &UpstreamError{StatusCode: search.StatusCode, Err: search.Err}
	}

	if missing := s.adapter.Missing(input, requiredFields...); len(missing) > 0 {
		return nil, ValidationError{reason: errMissingFields, Fields: missing}
	}

	candidate := s.adapter.Normalize(input)
	candidate.ID = ""
	candidate.CIN = cin
	candidate.CentralID = nil
	candidate.SyncedAt = nil
	candidate.CreatedAt = time.Time{}
	candidate.UpdatedAt = time.Time{}

	p, created, err := s.repo.CreateOrGet(ctx, candidate)
	if err != nil {
		return nil, fmt.Errorf("creating local patient: %w", err)
	}
	if !created {
		log.WithField("patient_id", p.ID).Warn("Broker reported no match but patient exists locally")
		return s.existing(ctx, s.adapter.ToExchange(*p), cin, "local"), nil
	}

	metrics.IncPatientsCreated()
	log = log.WithField("patient_id", p.ID)
	log.Info("Patient created locally")
	s.publisher.Publish(ctx, models.EventPatientCreated, p.ID, map[string]interface{}{
		"patientId": p.ID,
		"cin":       p.CIN,
		"origin":    "checkin",
	})

	p, synced := s.propagate(ctx, p, log)

	result := &Result{
		Outcome:     CheckedInNew,
		Patient:     s.adapter.ToExchange(*p),
		IsNew:       true,
		CheckinTime: s.now(),
		Synced:      synced,
	}
	s.publisher.Publish(ctx, models.EventPatientCheckedIn, p.ID, map[string]interface{}{
		"patientId":    p.ID,
		"cin":          p.CIN,
		"isNewPatient": true,
		"checkinTime":  result.CheckinTime,
	})
	return result, nil
}

// propagate pushes a freshly created patient to the central registry. The
// returned patient reflects any attached central id.
func (s *Service) propagate(ctx context.Context, p *models.Patient, log *logrus.Entry) (*models.Patient, bool) {
	res := s.broker.SyncToCentral(ctx, s.adapter.ToExchange(*p))

	if res.Synced && res.CentralID != "" {
		updated, err := s.repo.AttachCentralID(ctx, p.ID, res.CentralID)
		if err != nil {
			// The patient exists centrally; the resync worker will pick the
			// id up again on its next run.
			log.WithError(err).Error("Failed to attach central id")
			metrics.IncSyncFailed()
			return p, false
		}
		metrics.IncSyncSucceeded()
		log.WithField("central_id", res.CentralID).Info("Patient synced to central registry")
		s.publisher.Publish(ctx, models.EventPatientSynced, p.ID, map[string]interface{}{
			"patientId": p.ID,
			"centralId": res.CentralID,
		})
		return updated, true
	}

	reason := res.Reason
	if res.Synced {
		reason = "broker confirmed sync without a central id"
	}
	metrics.IncSyncFailed()
	log.WithFields(logrus.Fields{
		"status_code": res.StatusCode,
		"reason":      reason,
	}).Warn("Central sync failed, patient kept locally")
	s.publisher.Publish(ctx, models.EventPatientSyncFailed, p.ID, map[string]interface{}{
		"patientId": p.ID,
		"reason":    reason,
	})
	return p, false
}

// existing reports a check-in of a patient already known to the broker or to
// the local store. Events are keyed by the patient id, or by cin when the
// broker record carries none.
func (s *Service) existing(ctx context.Context, record map[string]interface{}, cin, origin string) *Result {
	result := &Result{
		Outcome:     CheckedInExisting,
		Patient:     record,
		CheckinTime: s.now(),
	}
	subject := cin
	if id, ok := record["id"]; ok && id != nil && fmt.Sprint(id) != "" {
		subject = fmt.Sprint(id)
	}
	s.publisher.Publish(ctx, models.EventPatientCheckedIn, subject, map[string]interface{}{
		"patientId":    record["id"],
		"cin":          record["cin"],
		"isNewPatient": false,
		"origin":       origin,
		"checkinTime":  result.CheckinTime,
	})
	return result
}

func outcomeOf(err error) Outcome {
	var ve ValidationError
	var ue *UpstreamError
	switch {
	case errors.As(err, &ve) && ve.MissingToken():
		return RejectedMissingToken
	case errors.As(err, &ve):
		return RejectedMissingFields
	case errors.Is(err, ErrBrokerUnavailable):
		return ServiceUnavailable
	case errors.As(err, &ue):
		return UpstreamFailure
	default:
		return "error"
	}
}
