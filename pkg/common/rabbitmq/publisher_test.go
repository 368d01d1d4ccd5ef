package rabbitmq

import "testing"

func TestRoutingKey(t *testing.T) {
	p := &Publisher{prefix: "intake"}
	if got := p.RoutingKey("patient.created"); got != "intake.patient.created" {
		t.Fatalf("unexpected routing key %q", got)
	}

	p.prefix = ""
	if got := p.RoutingKey("consultation.created"); got != "consultation.created" {
		t.Fatalf("unexpected routing key %q", got)
	}
}
