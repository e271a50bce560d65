package logfields

import (
	"errors"
	"log/slog"
	"testing"
	"time"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"Product", KeyProduct, `p["x":"foo"]`, Product(`p["x":"foo"]`)},
		{"Tool", KeyTool, "cp", Tool("cp")},
		{"Path", KeyPath, "foo/a.txt", Path("foo/a.txt")},
		{"Address", KeyAddress, "0:foo", Address("0:foo")},
		{"BuildID", KeyBuildID, "b1", BuildID("b1")},
		{"Process", KeyProcess, "sleep", Process("sleep")},
		{"Dir", KeyDir, "/tmp/w", Dir("/tmp/w")},
		{"Job", KeyJob, "sweep", Job("sweep")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %s", tc.name, tc.attrVal, got)
		}
	}
}

func TestNumericHelpers(t *testing.T) {
	if a := Count(4); a.Key != KeyCount || a.Value.Int64() != 4 {
		t.Fatalf("Count: unexpected attr %v", a)
	}
	if a := ExitCode(255); a.Key != KeyExitCode || a.Value.Int64() != 255 {
		t.Fatalf("ExitCode: unexpected attr %v", a)
	}
	if a := Duration(1500 * time.Microsecond); a.Value.Float64() != 1.5 {
		t.Fatalf("Duration: expected 1.5ms, got %v", a.Value)
	}
}

func TestErrorHelper(t *testing.T) {
	if a := Error(nil); a.Value.String() != "" {
		t.Fatalf("nil error should render empty, got %q", a.Value.String())
	}
	if a := Error(errors.New("boom")); a.Key != KeyError || a.Value.String() != "boom" {
		t.Fatalf("unexpected error attr %v", a)
	}
}
