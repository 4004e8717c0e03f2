package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/keilerkonzept/graphtop/internal/monitor"
	"github.com/keilerkonzept/graphtop/internal/sim"
)

func withConfig(t *testing.T, mutate func(*Config)) {
	t.Helper()
	saved := config
	t.Cleanup(func() { config = saved })
	mutate(&config)
}

func TestValidateAndNormalizeConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "defaults"},
		{name: "rpc timeout too long", mutate: func(c *Config) { c.RPCTimeout = 2 * c.DiscoveryInterval }, want: "-rpc-timeout"},
		{name: "zero fps", mutate: func(c *Config) { c.FPS = 0 }, want: "-fps"},
		{name: "window not multiple of tick", mutate: func(c *Config) { c.WindowSize = 1500 * time.Millisecond }, want: "multiple"},
		{name: "tiny capacity", mutate: func(c *Config) { c.WindowCapacity = 1 }, want: "-capacity"},
		{name: "decay out of range", mutate: func(c *Config) { c.Decay = 1.5 }, want: "-decay"},
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, want: "-log-level"},
		{name: "negative warmup", mutate: func(c *Config) { c.Warmup = -time.Second }, want: "-warmup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withConfig(t, func(c *Config) {
				if tt.mutate != nil {
					tt.mutate(c)
				}
			})
			err := validateAndNormalizeConfig()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err=%v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidateAndNormalizeConfig_ClampsSplit(t *testing.T) {
	withConfig(t, func(c *Config) { c.ViewSplit = 95; c.Query = "  scan " })
	if err := validateAndNormalizeConfig(); err != nil {
		t.Fatal(err)
	}
	if config.ViewSplit != 80 || config.Query != "scan" {
		t.Fatalf("split=%d query=%q", config.ViewSplit, config.Query)
	}
}

func TestComputePaneWidths(t *testing.T) {
	tests := []struct {
		total, split int
		left, right  int
	}{
		{total: 100, split: 65, left: 65, right: 35},
		{total: 100, split: 95, left: 82, right: 18},
		{total: 40, split: 20, left: 18, right: 22},
		{total: 1, split: 50, left: 1, right: 1},
		{total: 10, split: 50, left: 5, right: 5},
	}
	for _, tt := range tests {
		left, right := computePaneWidths(tt.total, tt.split)
		if left != tt.left || right != tt.right {
			t.Errorf("computePaneWidths(%d, %d) = %d, %d; want %d, %d", tt.total, tt.split, left, right, tt.left, tt.right)
		}
	}
}

func TestNewLogger_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "graphtop.log")
	withConfig(t, func(c *Config) { c.LogFile = path; c.LogLevel = "warn" })

	logger, closeLog, err := newLogger()
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hidden")
	logger.Warn("subscription failed", "component", "subscriptions", "topic", "/scan")
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("info line written at warn level: %s", data)
	}
	if !strings.Contains(string(data), "topic=/scan") {
		t.Fatalf("log file = %s", data)
	}
}

func TestDump_WritesSnapshotJSON(t *testing.T) {
	withConfig(t, func(c *Config) { c.Warmup = 0; c.HideUnmeasurable = true })

	scenario, err := sim.Parse([]byte(`
nodes:
  - name: talker
topics:
  - name: /chatter
    type: std_msgs/msg/String
    publishers: [/talker]
actions:
  - name: /spin
    type: example_interfaces/action/Spin
    server: /talker
`))
	if err != nil {
		t.Fatal(err)
	}
	backend := sim.New(scenario)
	mon, err := monitor.New(backend, backend, monitor.Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer mon.Close()
	if err := mon.Discover(context.Background()); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := dump(context.Background(), &buf, mon); err != nil {
		t.Fatal(err)
	}
	var snap monitor.Snapshot
	if err := json.Unmarshal(buf.Bytes(), &snap); err != nil {
		t.Fatalf("dump is not JSON: %v\n%s", err, buf.String())
	}
	if len(snap.Topics) != 1 || snap.Topics[0].Name != "/chatter" {
		t.Fatalf("topics = %+v", snap.Topics)
	}
	if len(snap.Actions) != 1 || snap.Actions[0].Name != "/spin" {
		t.Fatalf("actions = %+v", snap.Actions)
	}
	if len(snap.Nodes) != 1 || snap.Nodes[0] != "/talker" {
		t.Fatalf("nodes = %v", snap.Nodes)
	}
}
