package eventbus

import "testing"

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected: "disconnected",
		StatusConnected:    "connected",
		StatusReconnecting: "reconnecting",
		StatusCircuitOpen:  "circuit_open",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestRecordFailureOpensCircuitAtThreshold(t *testing.T) {
	p := &Publisher{circuitThreshold: defaultCircuitThreshold}
	p.status.Store(StatusConnected)

	for i := 0; i < defaultCircuitThreshold-1; i++ {
		p.recordFailure()
		if p.Status() == StatusCircuitOpen {
			t.Fatalf("circuit opened early after %d failures", i+1)
		}
	}
	p.recordFailure()
	if p.Status() != StatusCircuitOpen {
		t.Errorf("expected circuit open after %d failures, got %s", defaultCircuitThreshold, p.Status())
	}
}

func TestPublishNoopsWhileCircuitOpen(t *testing.T) {
	p := &Publisher{circuitThreshold: defaultCircuitThreshold}
	p.status.Store(StatusCircuitOpen)

	if err := p.Publish("status", map[string]string{"k": "v"}); err != nil {
		t.Errorf("Publish while circuit open should be a no-op, got error: %v", err)
	}
}

func TestPublishWithoutConnectionReturnsError(t *testing.T) {
	p := &Publisher{circuitThreshold: defaultCircuitThreshold}
	p.status.Store(StatusDisconnected)

	if err := p.Publish("status", map[string]string{"k": "v"}); err == nil {
		t.Error("expected error publishing with no connection")
	}
}
