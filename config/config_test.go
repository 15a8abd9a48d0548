package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "latentpool-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Remove(tmpfile.Name())
	})

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadConfig(t *testing.T) {
	content := `
version: v1
provider: aws
region: us-east-1

defaults:
  keypair_name: build-workers
  security_name: build-workers

workers:
  linux-large:
    instance_type: m5.large
    image:
      owners: ["111111111111"]
      location_pattern: "worker-v[0-9]+"
    tags:
      team: ci
    pricing:
      spot_instance: true
      max_spot_price: 0.40
      retry: 3
      price_adjustment_factor: 1.05

reaper:
  enabled: true
  interval: 30s
  idle_timeout: 15m
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Provider != "aws" {
		t.Errorf("Provider = %v, want aws", cfg.Provider)
	}
	if cfg.Defaults.KeypairName != "build-workers" {
		t.Errorf("Defaults.KeypairName = %v, want build-workers", cfg.Defaults.KeypairName)
	}

	worker, err := cfg.Worker("linux-large")
	if err != nil {
		t.Fatalf("Worker() error = %v", err)
	}
	if worker.Name != "linux-large" {
		t.Errorf("worker Name = %v, want map key linux-large", worker.Name)
	}
	if worker.InstanceType != "m5.large" {
		t.Errorf("InstanceType = %v, want m5.large", worker.InstanceType)
	}
	if !worker.Pricing.Spot || worker.Pricing.Retry != 3 {
		t.Errorf("pricing not parsed: %+v", worker.Pricing)
	}
	if worker.Image.LocationPattern != "worker-v[0-9]+" {
		t.Errorf("LocationPattern = %v", worker.Image.LocationPattern)
	}

	if cfg.Reaper.Interval != 30*time.Second {
		t.Errorf("Reaper.Interval = %v, want 30s", cfg.Reaper.Interval)
	}
	if cfg.Reaper.IdleTimeout != 15*time.Minute {
		t.Errorf("Reaper.IdleTimeout = %v, want 15m", cfg.Reaper.IdleTimeout)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	content := `
version: v1
provider: memory
region: local
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Reaper.Interval != time.Minute {
		t.Errorf("Reaper.Interval default = %v, want 1m", cfg.Reaper.Interval)
	}
	if cfg.Reaper.IdleTimeout != 10*time.Minute {
		t.Errorf("Reaper.IdleTimeout default = %v, want 10m", cfg.Reaper.IdleTimeout)
	}
	if cfg.Paths.Journal == "" || cfg.Paths.Registry == "" {
		t.Error("expected default state paths")
	}
	if cfg.OTEL.MetricsAddr != ":9464" {
		t.Errorf("MetricsAddr default = %v, want :9464", cfg.OTEL.MetricsAddr)
	}
}

func TestLoadConfig_VolumeShapes(t *testing.T) {
	content := `
version: v1
provider: memory
region: local

workers:
  list-form:
    instance_type: m5.large
    image:
      id: ami-1
    volumes:
      - device_name: /dev/xvdb
        size: 100
        volume_type: gp3
  legacy-form:
    instance_type: m5.large
    image:
      id: ami-1
    volumes:
      /dev/xvdb:
        size: 100
        volume_type: gp3
        delete_on_termination: false
`
	cfg, err := LoadConfig(writeConfig(t, content))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	listForm, _ := cfg.Worker("list-form")
	if len(listForm.Volumes.List) != 1 {
		t.Fatalf("expected 1 list volume, got %+v", listForm.Volumes)
	}

	legacyForm, _ := cfg.Worker("legacy-form")
	decl, ok := legacyForm.Volumes.Legacy["/dev/xvdb"]
	if !ok {
		t.Fatalf("expected legacy volume entry, got %+v", legacyForm.Volumes)
	}
	if decl.DeleteOnTermination == nil || *decl.DeleteOnTermination {
		t.Error("expected explicit delete_on_termination: false to survive parsing")
	}
}

func TestLoadConfig_MissingFields(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"no version", "provider: aws\nregion: us-east-1\n"},
		{"no provider", "version: v1\nregion: us-east-1\n"},
		{"no region", "version: v1\nprovider: aws\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfig(writeConfig(t, tt.content)); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestLoadConfig_ConflictingWorkerName(t *testing.T) {
	content := `
version: v1
provider: memory
region: local
workers:
  alpha:
    name: beta
    instance_type: m5.large
    image:
      id: ami-1
`
	if _, err := LoadConfig(writeConfig(t, content)); err == nil {
		t.Error("expected conflicting name to be rejected")
	}
}
