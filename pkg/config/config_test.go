package config

import (
	"strings"
	"testing"
	"time"
)

const sample = `
environment: test
sources:
  - id: main
    probe_url: http://agent:9000
bots:
  - id: cons
    mode: conservative
    bet_amount: 2
persistence:
  backend: none
prediction:
  mode: off
`

func TestParseDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.Server.Port != 8080 || c.Kafka.Topic != "crash.events" || c.Prediction.MaxAge != 30*time.Second {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Bots[0].SourceID != "main" {
		t.Fatalf("single source not inherited by bot: %q", c.Bots[0].SourceID)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"unknown backend":    strings.Replace(sample, "backend: none", "backend: mongo", 1),
		"redis prediction":   strings.Replace(sample, "mode: off", "mode: redis", 1),
		"missing env":        strings.Replace(sample, "environment: test", "", 1),
		"kafka without flag": strings.Replace(sample, "backend: none", "backend: none\n  rounds_via: kafka", 1),
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	c, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	env := map[string]string{
		"KAFKA_BROKERS": "k1:9092,k2:9092",
		"PROBE_URLS":    "main=http://a:1, alt=http://b:2",
		"POSTGRES_DSN":  "postgres://x",
		"SERVER_PORT":   "99999",
	}
	c.applyEnv(func(k string) string { return env[k] })
	if len(c.Kafka.Brokers) != 2 || c.Postgres.DSN != "postgres://x" {
		t.Fatalf("env not applied: %+v", c.Kafka.Brokers)
	}
	if len(c.Sources) != 2 || c.Sources[1].ID != "alt" || c.Sources[1].ProbeURL != "http://b:2" {
		t.Fatalf("unexpected sources %+v", c.Sources)
	}
	if c.Server.Port != 65535 {
		t.Fatalf("port not clamped: %d", c.Server.Port)
	}
}
