package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// decodeLines parses one JSON record per line.
func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		out = append(out, m)
	}
	return out
}

func jsonLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	return NewWithHandler(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level}))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" DEBUG ", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewTextFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewText(&buf, ParseLevel("warn"))
	l.Info("artifacts loaded", "count", 3)
	l.Warn("skipped", "component", "codehash", "reason", "no runtime bytecode")

	out := buf.String()
	if strings.Contains(out, "artifacts loaded") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	for _, want := range []string{"level=WARN", "msg=skipped", "component=codehash", `reason="no runtime bytecode"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("output %q missing %q", out, want)
		}
	}
	if n := strings.Count(out, "\n"); n != 1 {
		t.Fatalf("lines = %d, want 1", n)
	}
}

func TestRunLoggerCarriesContext(t *testing.T) {
	var buf bytes.Buffer
	base := jsonLogger(&buf, slog.LevelDebug)
	lg := base.Module("pipeline").With("run", "0190f1c2-7a00-7000-8000-000000000001", "mode", "predictive")

	lg.Info("pipeline started", "chainId", 1, "epoch", 7)
	lg.Info("route tree built", "root", "0xabc", "leaves", 3)
	base.Info("unscoped")

	recs := decodeLines(t, &buf)
	if len(recs) != 3 {
		t.Fatalf("records = %d, want 3", len(recs))
	}
	for _, rec := range recs[:2] {
		if rec["module"] != "pipeline" || rec["mode"] != "predictive" || rec["run"] == nil {
			t.Fatalf("record missing run context: %v", rec)
		}
	}
	if recs[0]["chainId"] != float64(1) || recs[0]["epoch"] != float64(7) {
		t.Fatalf("start record = %v", recs[0])
	}
	if recs[1]["root"] != "0xabc" || recs[1]["leaves"] != float64(3) {
		t.Fatalf("tree record = %v", recs[1])
	}
	if _, ok := recs[2]["module"]; ok {
		t.Fatalf("child context leaked into parent: %v", recs[2])
	}
}

func TestModuleNesting(t *testing.T) {
	var buf bytes.Buffer
	lg := jsonLogger(&buf, slog.LevelInfo).Module("plan").With("planId", "0x01")
	lg.Warn("post-deployment check failed", "check", "codehashMatches", "errors", 2)

	recs := decodeLines(t, &buf)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec["level"] != "WARN" || rec["module"] != "plan" || rec["planId"] != "0x01" {
		t.Fatalf("record = %v", rec)
	}
	if rec["check"] != "codehashMatches" || rec["errors"] != float64(2) {
		t.Fatalf("record = %v", rec)
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default() {
		t.Fatal("OrDefault(nil) is not the default logger")
	}
	l := Discard()
	if OrDefault(l) != l {
		t.Fatal("OrDefault replaced a non-nil logger")
	}
}

func TestSetDefaultRoutesPackageFunctions(t *testing.T) {
	prev := Default()
	defer SetDefault(prev)

	var buf bytes.Buffer
	SetDefault(jsonLogger(&buf, slog.LevelWarn))
	SetDefault(nil)

	Debug("dropped")
	Info("dropped")
	Warn("ledger mismatch", "fingerprint", "0x02")
	Error("run halted before emission", "errors", 1)

	recs := decodeLines(t, &buf)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2: %v", len(recs), recs)
	}
	if recs[0]["msg"] != "ledger mismatch" || recs[1]["level"] != "ERROR" {
		t.Fatalf("records = %v", recs)
	}
}

func TestDiscard(t *testing.T) {
	l := Discard().Module("merkle").With("leaves", 4)
	// Must not panic or write anywhere observable.
	l.Debug("d")
	l.Info("i")
	l.Warn("w")
	l.Error("e")
}
