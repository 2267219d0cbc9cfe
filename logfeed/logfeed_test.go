package logfeed

import (
	"bytes"
	"log/slog"
	"testing"
)

func TestAggregatorLogsAndRetains(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	agg := New(logger, 8, nil)

	agg.Infof("udp-listener", "started on port %d", 9000)
	agg.Errorf("tcp-client", "dial failed: %s", "refused")

	if buf.Len() == 0 {
		t.Error("expected log output to be written through the underlying logger")
	}

	entries := agg.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 retained entries, got %d", len(entries))
	}
	if entries[0].Severity != Info || entries[1].Severity != Error {
		t.Errorf("unexpected severities: %+v", entries)
	}
}

func TestAggregatorOverflowDropsOldest(t *testing.T) {
	agg := New(nil, 2, nil)
	agg.Infof("a", "one")
	agg.Infof("a", "two")
	agg.Infof("a", "three")

	entries := agg.Recent(10)
	if len(entries) != 2 {
		t.Fatalf("expected capacity-bound 2 entries, got %d", len(entries))
	}
	if entries[0].Message != "two" || entries[1].Message != "three" {
		t.Errorf("expected oldest entry dropped, got %+v", entries)
	}
}

func TestSeverityString(t *testing.T) {
	cases := map[Severity]string{
		Debug: "DEBUG", Info: "INFO", Warning: "WARNING",
		Error: "ERROR", Send: "SEND", Recv: "RECV",
	}
	for sev, want := range cases {
		if got := sev.String(); got != want {
			t.Errorf("Severity(%d).String() = %q, want %q", sev, got, want)
		}
	}
}
