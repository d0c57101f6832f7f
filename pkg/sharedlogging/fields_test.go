package sharedlogging

import (
	"fmt"
	"testing"
	"time"
)

func TestFieldsBuilder(t *testing.T) {
	f := NewFields().
		Component("memgate").
		Operation("evaluate").
		Resource("fact", "user_prefers_language").
		UserID("u-1").
		RequestID("r-1").
		TraceID("t-1").
		Duration(250 * time.Millisecond).
		Count(3).
		Custom("tier", "LONG_TERM")

	want := map[string]interface{}{
		"component":     "memgate",
		"operation":     "evaluate",
		"resource_type": "fact",
		"resource_name": "user_prefers_language",
		"user_id":       "u-1",
		"request_id":    "r-1",
		"trace_id":      "t-1",
		"duration_ms":   int64(250),
		"count":         3,
		"tier":          "LONG_TERM",
	}

	for k, v := range want {
		got, ok := f[k]
		if !ok {
			t.Fatalf("missing field %q", k)
		}
		if fmt.Sprint(got) != fmt.Sprint(v) {
			t.Errorf("field %q = %v, want %v", k, got, v)
		}
	}
}

func TestFieldsOmitEmpty(t *testing.T) {
	f := NewFields().UserID("").RequestID("").TraceID("")
	for _, k := range []string{"user_id", "request_id", "trace_id"} {
		if _, ok := f[k]; ok {
			t.Errorf("expected %q to be omitted when empty", k)
		}
	}
}

func TestFieldsError(t *testing.T) {
	f := NewFields().Error(fmt.Errorf("boom"))
	if f["error"] != "boom" {
		t.Errorf("Error() = %v, want boom", f["error"])
	}

	clean := NewFields().Error(nil)
	if _, ok := clean["error"]; ok {
		t.Error("Error(nil) should not set a field")
	}
}

func TestToZapProducesAllKeys(t *testing.T) {
	f := NewFields().Component("scheduler").Operation("tick")
	zf := f.ToZap()
	if len(zf) != len(f) {
		t.Errorf("ToZap() produced %d fields, want %d", len(zf), len(f))
	}
}

func TestDatabaseFields(t *testing.T) {
	f := DatabaseFields("insert", "episodes")
	if f["component"] != "database" || f["operation"] != "insert" || f["resource_name"] != "episodes" {
		t.Errorf("DatabaseFields() = %+v", f)
	}
}

func TestSchedulerFields(t *testing.T) {
	f := SchedulerFields("heartbeat", true)
	if f["component"] != "scheduler" || f["operation"] != "heartbeat" || f["is_leader"] != true {
		t.Errorf("SchedulerFields() = %+v", f)
	}
}
