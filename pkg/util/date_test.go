package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnix(t *testing.T) {
	at := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got, ok := ParseTime(strconv.FormatInt(at.Unix(), 10))
	if !ok || got.Unix() != at.Unix() {
		t.Fatalf("unexpected unix seconds %v", got)
	}
	got, ok = ParseTime(strconv.FormatInt(at.UnixMilli()+250, 10))
	if !ok || got.UnixMilli() != at.UnixMilli()+250 {
		t.Fatalf("unexpected unix millis %v", got)
	}
	if _, ok := ParseTime("yesterday"); ok {
		t.Fatalf("garbage must not parse")
	}
}

func TestClamp(t *testing.T) {
	if Clamp(0, 1, 10) != 1 || Clamp(50, 1, 10) != 10 || Clamp(5, 1, 10) != 5 {
		t.Fatalf("clamp out of bounds")
	}
	if ParseIntDefault("x", 7) != 7 || ParseIntDefault("12", 7) != 12 {
		t.Fatalf("ParseIntDefault")
	}
}
