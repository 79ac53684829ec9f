package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/andon/internal/fault"
	"github.com/loykin/andon/internal/logger"
	"github.com/loykin/andon/internal/shift"
)

func writeFile(t *testing.T, dir, name, data string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestDefaults(t *testing.T) {
	c, err := Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if c.Poller.Interval != 1500*time.Millisecond || c.Poller.Timeout != 5*time.Second {
		t.Fatalf("unexpected poller defaults: %+v", c.Poller)
	}
	if c.Poller.Workers != 4 || c.Poller.CountIndex != 1 {
		t.Fatalf("unexpected poller defaults: %+v", c.Poller)
	}
	if c.Shift.Source != ShiftSourceConfig || c.Shift.CacheTTL != 30*time.Second {
		t.Fatalf("unexpected shift defaults: %+v", c.Shift)
	}
	ws, err := c.ShiftWindows()
	if err != nil {
		t.Fatalf("windows: %v", err)
	}
	def := shift.DefaultWindows()
	if len(ws) != len(def) || ws[1] != def[1] {
		t.Fatalf("expected default windows, got %v", ws)
	}
	if c.Store.DSN != "andon.db" || c.Log.Slog.Level != logger.LevelInfo || !c.Log.Slog.TimeStamps {
		t.Fatalf("unexpected defaults: store=%q log=%+v", c.Store.DSN, c.Log.Slog)
	}
	if r := c.RetryConfig(); r.InitialInterval != 50*time.Millisecond || r.MaxElapsed != time.Second {
		t.Fatalf("unexpected retry: %+v", r)
	}
	if !c.Metrics.Enabled || c.Server.Listen != ":8080" {
		t.Fatalf("unexpected surface defaults: %+v %+v", c.Metrics, c.Server)
	}
}

func TestLoadFull(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "andon.toml", `
[poller]
interval = "2s"
timeout = "750ms"
workers = 8

[shift]
timezone = "Asia/Kolkata"
source = "store"

[[shift.windows]]
number = 1
start = "06:00"
end = "14:00"
[[shift.windows]]
number = 2
start = "14:00"
end = "22:00"
[[shift.windows]]
number = 3
start = "22:00"
end = "06:00"

[store]
dsn = "sqlite:///var/lib/andon/andon.db"

[history]
sinks = ["kafka://k1:9092,k2:9092/andon.events", "opensearch://search:9200/andon"]

[log.slog]
level = "debug"
format = "json"

[[stations]]
name = "LINE-1"
address = "10.0.0.5"
count_index = 3
category_map = { PMD = 0, Quality = 4 }

[[stations]]
name = "LINE-2"
address = "10.0.0.6"
active = false
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Poller.Interval != 2*time.Second || c.Poller.Timeout != 750*time.Millisecond || c.Poller.Workers != 8 {
		t.Fatalf("poller: %+v", c.Poller)
	}
	loc, err := c.Location()
	if err != nil || loc.String() != "Asia/Kolkata" {
		t.Fatalf("location: %v %v", loc, err)
	}
	ws, _ := c.ShiftWindows()
	if !ws[2].CrossesMidnight() {
		t.Fatalf("shift 3 should cross midnight: %v", ws[2])
	}
	if len(c.History.Sinks) != 2 || !strings.HasPrefix(c.History.Sinks[0], "kafka://") {
		t.Fatalf("sinks: %v", c.History.Sinks)
	}
	if c.Log.Slog.Format != logger.FormatJSON || c.Log.Slog.Level != logger.LevelDebug {
		t.Fatalf("log: %+v", c.Log.Slog)
	}
	sts := c.StoreStations()
	if len(sts) != 2 {
		t.Fatalf("expected 2 stations, got %d", len(sts))
	}
	if !sts[0].Active || sts[1].Active {
		t.Fatalf("active flags: %v %v", sts[0].Active, sts[1].Active)
	}
	if sts[0].CountIndex == nil || *sts[0].CountIndex != 3 {
		t.Fatalf("count index: %v", sts[0].CountIndex)
	}
	idx, err := fault.ResolveIndexMap(sts[0].CategoryMap)
	if err != nil || idx[fault.Quality] != 4 || idx[fault.PMD] != 0 {
		t.Fatalf("category map: %v err=%v", idx, err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANDON_STORE_DSN", "postgres://andon@db/andon")
	t.Setenv("ANDON_POLLER_INTERVAL", "3s")
	t.Setenv("ANDON_HISTORY_SINKS", "clickhouse://ch:9000 kafka://a:9092,b:9092/t")
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Store.DSN != "postgres://andon@db/andon" || c.Poller.Interval != 3*time.Second {
		t.Fatalf("env not applied: dsn=%q interval=%s", c.Store.DSN, c.Poller.Interval)
	}
	if len(c.History.Sinks) != 2 || c.History.Sinks[1] != "kafka://a:9092,b:9092/t" {
		t.Fatalf("sinks: %v", c.History.Sinks)
	}
}

func TestStationsFileAndEnvFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "secrets.env", "PGPASS=hunter2\nLINE_HOST=10.1.1.7\n")
	writeFile(t, dir, "stations.yaml", `
- name: LINE-7
  address: ${LINE_HOST}:8080
  category_map: {Store: 5}
- name: LINE-8
  address: 10.1.1.8
  active: false
`)
	file := writeFile(t, dir, "andon.toml", `
env_files = ["secrets.env"]
stations_file = "stations.yaml"

[store]
dsn = "postgres://andon:${PGPASS}@db:5432/andon"

[[stations]]
name = "LINE-1"
address = "10.0.0.5"
`)
	c, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Store.DSN != "postgres://andon:hunter2@db:5432/andon" {
		t.Fatalf("dsn not expanded: %s", c.Store.DSN)
	}
	if len(c.Stations) != 3 || c.Stations[1].Address != "10.1.1.7:8080" {
		t.Fatalf("stations: %+v", c.Stations)
	}
	if c.Stations[1].CategoryMap["Store"] != 5 || *c.Stations[2].Active {
		t.Fatalf("yaml station fields: %+v", c.Stations[1:])
	}
}

func TestValidateErrors(t *testing.T) {
	cases := map[string]string{
		"duplicate station": `
[[stations]]
name = "A"
address = "1"
[[stations]]
name = "A"
address = "2"
`,
		"index collision": `
[[stations]]
name = "A"
address = "1"
category_map = { PMD = 2, JMD = 2 }
`,
		"unknown category": `
[[stations]]
name = "A"
address = "1"
category_map = { Paint = 2 }
`,
		"missing address": `
[[stations]]
name = "A"
`,
		"uncovered windows": `
[[shift.windows]]
number = 1
start = "06:00"
end = "14:00"
`,
		"bad clock": `
[[shift.windows]]
number = 1
start = "25:00"
end = "06:00"
`,
		"bad timezone": `
[shift]
timezone = "Mars/Olympus"
`,
		"bad source": `
[shift]
source = "redis"
`,
		"zero workers": `
[poller]
workers = 0
`,
		"station name with slash": `
[[stations]]
name = "LINE/1"
address = "1"
`,
		"metrics listen while disabled": `
[metrics]
enabled = false
listen = ":9090"
`,
		"metrics listen on status address": `
[metrics]
listen = ":8080"
`,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			file := writeFile(t, t.TempDir(), "andon.toml", data)
			_, err := Load(file)
			if !errors.Is(err, ErrInvalid) {
				t.Fatalf("expected ErrInvalid, got %v", err)
			}
		})
	}
	_, err := Load(writeFile(t, t.TempDir(), "andon.toml", "[[stations]]\nname = \"A\"\naddress = \"1\"\ncategory_map = { PMD = 2, JMD = 2 }\n"))
	if !errors.Is(err, fault.ErrIndexCollision) {
		t.Fatalf("collision should be visible through the error chain, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	dir := t.TempDir()
	file := writeFile(t, dir, "andon.toml", "stations_file = \"missing.yaml\"\n")
	if _, err := Load(file); err == nil || !strings.Contains(err.Error(), "stations file") {
		t.Fatalf("expected stations file error, got %v", err)
	}
}

func TestMetricsListen(t *testing.T) {
	c, err := Load(writeFile(t, t.TempDir(), "andon.toml", "[metrics]\nlisten = \":9090\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9090" {
		t.Fatalf("metrics: %+v", c.Metrics)
	}
}
