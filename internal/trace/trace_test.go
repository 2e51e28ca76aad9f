package trace

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestRecordWritesOneLinePerEvent(t *testing.T) {
	var buf bytes.Buffer
	r := New(&buf)
	r.Command("echo hi", 0, 3*time.Millisecond)
	r.Job("[1]+  已完成               sleep 1")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("行数 = %d, 期望 2:\n%s", len(lines), buf.String())
	}
	for i, line := range lines {
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("第 %d 行不是合法 JSON: %v", i+1, err)
		}
		if ev.TimestampMicros == 0 {
			t.Errorf("第 %d 行缺时间戳", i+1)
		}
	}
}

func TestCommandEventFields(t *testing.T) {
	var buf bytes.Buffer
	New(&buf).Command("false", 1, 500*time.Microsecond)

	var ev Event
	if err := json.Unmarshal(buf.Bytes(), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != "command" {
		t.Errorf("kind = %q, 期望 command", ev.Kind)
	}
	if ev.Text != "false" || ev.Status != 1 {
		t.Errorf("text=%q status=%d, 期望 false/1", ev.Text, ev.Status)
	}
	if ev.DurationMicros != 500 {
		t.Errorf("dur_us = %d, 期望 500", ev.DurationMicros)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.Command("echo", 0, 0)
	r.Job("noop")
	r.Signal("INT")
	if err := r.Record(Event{Kind: "x"}); err != nil {
		t.Errorf("nil 录制器 Record 返回 %v, 期望 nil", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("nil 录制器 Close 返回 %v, 期望 nil", err)
	}
}
