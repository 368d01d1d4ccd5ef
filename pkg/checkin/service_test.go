package checkin

import (
	"context"
	"errors"
	"testing"

	"github.com/novacare/clinic-intake/pkg/broker"
	"github.com/novacare/clinic-intake/pkg/common/events"
	"github.com/novacare/clinic-intake/pkg/naming"
	"github.com/novacare/clinic-intake/pkg/observability/metrics"
	"github.com/novacare/clinic-intake/pkg/patient"
	"github.com/novacare/clinic-intake/pkg/store/storetest"
)

type scriptedBroker struct {
	search broker.SearchResult
	sync   broker.SyncResult
	calls  []string
	synced map[string]interface{}
}

func (b *scriptedBroker) Search(_ context.Context, cin string) broker.SearchResult {
	b.calls = append(b.calls, "search:"+cin)
	return b.search
}

func (b *scriptedBroker) SyncToCentral(_ context.Context, record map[string]interface{}) broker.SyncResult {
	b.calls = append(b.calls, "sync")
	b.synced = record
	return b.sync
}

func newService(t *testing.T, b Broker) (*Service, *patient.Repository) {
	t.Helper()
	adapter := naming.NewAdapter(naming.DefaultCatalog())
	repo := patient.NewRepository(storetest.New(t), adapter, nil)
	return NewService(b, repo, adapter, events.NewPublisher("test", nil)), repo
}

func TestCheckInOrdersSearchCreateSync(t *testing.T) {
	b := &scriptedBroker{
		search: broker.SearchResult{Status: broker.NotFound},
		sync:   broker.SyncResult{Synced: true, CentralID: "C-9"},
	}
	svc, repo := newService(t, b)

	res, err := svc.CheckIn(context.Background(), map[string]interface{}{
		"cin":           " AB123456 ",
		"first_name":    "Amina",
		"firstName":     "Ignored",
		"lastName":      "Haddad",
		"date_of_birth": "1985-03-02",
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Outcome != CheckedInNew || !res.IsNew || !res.Synced {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(b.calls) != 2 || b.calls[0] != "search:AB123456" || b.calls[1] != "sync" {
		t.Fatalf("unexpected call order %v", b.calls)
	}

	// The broker receives the persisted record, so it already has a local id.
	if b.synced["id"] == nil || b.synced["firstName"] != "Amina" || b.synced["cin"] != "AB123456" {
		t.Fatalf("unexpected sync payload %v", b.synced)
	}

	stored, err := repo.GetByCIN(context.Background(), "AB123456")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.CentralID == nil || *stored.CentralID != "C-9" || stored.SyncedAt == nil {
		t.Fatalf("expected central id attached, got %+v", stored)
	}
}

func TestSyncedWithoutIDLeavesRecordUnsynced(t *testing.T) {
	b := &scriptedBroker{
		search: broker.SearchResult{Status: broker.NotFound},
		sync:   broker.SyncResult{Synced: true},
	}
	svc, repo := newService(t, b)

	res, err := svc.CheckIn(context.Background(), map[string]interface{}{
		"cin": "AB1", "firstName": "A", "lastName": "B", "dateOfBirth": "2000-01-01",
	})
	if err != nil {
		t.Fatalf("check-in: %v", err)
	}
	if res.Synced {
		t.Fatal("a confirmation without central id must not count as synced")
	}
	stored, _ := repo.GetByCIN(context.Background(), "AB1")
	if stored.CentralID != nil || stored.SyncedAt != nil {
		t.Fatalf("expected record left as created, got %+v", stored)
	}
}

func TestErrorsCarryOutcome(t *testing.T) {
	tests := []struct {
		name   string
		search broker.SearchResult
		input  map[string]interface{}
		want   Outcome
		check  func(error) bool
	}{
		{
			name:  "missing token",
			input: map[string]interface{}{"firstName": "A"},
			want:  RejectedMissingToken,
			check: IsValidationError,
		},
		{
			name:   "missing fields",
			search: broker.SearchResult{Status: broker.NotFound},
			input:  map[string]interface{}{"cin": "AB1"},
			want:   RejectedMissingFields,
			check:  IsValidationError,
		},
		{
			name:   "unreachable",
			search: broker.SearchResult{Status: broker.Unreachable, Err: context.DeadlineExceeded},
			input:  map[string]interface{}{"cin": "AB1"},
			want:   ServiceUnavailable,
			check:  func(err error) bool { return errors.Is(err, ErrBrokerUnavailable) },
		},
		{
			name:   "unexpected",
			search: broker.SearchResult{Status: broker.Unexpected, StatusCode: 502},
			input:  map[string]interface{}{"cin": "AB1"},
			want:   UpstreamFailure,
			check: func(err error) bool {
				var ue *UpstreamError
				return errors.As(err, &ue) && ue.StatusCode == 502
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(t, &scriptedBroker{search: tt.search})
			before := metrics.Checkins(string(tt.want))

			_, err := svc.CheckIn(context.Background(), tt.input)
			if err == nil || !tt.check(err) {
				t.Fatalf("unexpected error %v", err)
			}
			if outcomeOf(err) != tt.want {
				t.Fatalf("expected outcome %s, got %s", tt.want, outcomeOf(err))
			}
			if metrics.Checkins(string(tt.want)) != before+1 {
				t.Fatal("expected outcome to be counted")
			}
		})
	}
}

func TestFoundRecordWithoutIDIsKeyedByCIN(t *testing.T) {
	adapter := naming.NewAdapter(naming.DefaultCatalog())
	repo := patient.NewRepository(storetest.New(t), adapter, nil)
	recorder := &events.Recorder{}
	b := &scriptedBroker{search: broker.SearchResult{
		Status: broker.Found,
		Record: map[string]interface{}{"cin": "AB1", "firstName": "Amina"},
	}}
	svc := NewService(b, repo, adapter, events.NewPublisher("test", recorder))

	if _, err := svc.CheckIn(context.Background(), map[string]interface{}{"cin": "AB1"}); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	published := recorder.Events()
	if len(published) != 1 || published[0].Metadata["subject"] != "AB1" {
		t.Fatalf("expected one event keyed by cin, got %+v", published)
	}
}
