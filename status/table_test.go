package status

import "testing"

func TestTableUpsertAndSnapshot(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(Entry{Key: "udp:9000", Kind: "udp-in", Connected: true})
	tbl.Upsert(Entry{Key: "tcp:9001", Kind: "tcp-client"})

	snap := tbl.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	if snap[0].Key != "tcp:9001" || snap[1].Key != "udp:9000" {
		t.Errorf("snapshot not sorted by key: %+v", snap)
	}
}

func TestTableDirtyFlagClearsOnSnapshot(t *testing.T) {
	tbl := NewTable()
	if tbl.Dirty() {
		t.Error("new table should not be dirty")
	}
	tbl.Upsert(Entry{Key: "a"})
	if !tbl.Dirty() {
		t.Error("table should be dirty after Upsert")
	}
	tbl.Snapshot()
	if tbl.Dirty() {
		t.Error("table should not be dirty after Snapshot")
	}
}

func TestTableUpdateIncrementsCounters(t *testing.T) {
	tbl := NewTable()
	inc := func(e Entry) Entry { e.PacketsIn++; return e }
	tbl.Update("udp:9000", inc)
	tbl.Update("udp:9000", inc)

	snap := tbl.Snapshot()
	if len(snap) != 1 || snap[0].PacketsIn != 2 {
		t.Errorf("snapshot = %+v, want PacketsIn 2", snap)
	}
}

func TestTableRemove(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(Entry{Key: "a"})
	tbl.Remove("a")
	if snap := tbl.Snapshot(); len(snap) != 0 {
		t.Errorf("expected empty table after Remove, got %+v", snap)
	}
}
