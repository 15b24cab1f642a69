package config

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadConfigFromReaderRejectsUnknownFields(t *testing.T) {
	r := strings.NewReader(`{"slot_minutes": 15, "location": "UTC", "not_a_real_field": 1}`)
	_, err := LoadConfigFromReader(r)
	if err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestLoadConfigFromReaderOverridesDefaults(t *testing.T) {
	r := strings.NewReader(`{"slot_minutes": 30, "location": "UTC"}`)
	cfg, err := LoadConfigFromReader(r)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.SlotMinutes != 30 {
		t.Errorf("SlotMinutes = %d, want 30", cfg.SlotMinutes)
	}
	if cfg.BatteryCapacityKwh != DefaultConfig().BatteryCapacityKwh {
		t.Errorf("expected untouched fields to keep default values")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlotMinutes = 30
	cfg.PlannerTimeout = 7 * time.Second

	var buf bytes.Buffer
	if err := cfg.SaveConfigToWriter(&buf); err != nil {
		t.Fatalf("SaveConfigToWriter failed: %v", err)
	}

	loaded, err := LoadConfigFromReader(&buf)
	if err != nil {
		t.Fatalf("LoadConfigFromReader failed: %v", err)
	}
	if loaded.SlotMinutes != 30 {
		t.Errorf("SlotMinutes = %d, want 30", loaded.SlotMinutes)
	}
	if loaded.PlannerTimeout != 7*time.Second {
		t.Errorf("PlannerTimeout = %s, want 7s", loaded.PlannerTimeout)
	}
}

func TestValidateRejectsBadSlotMinutes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlotMinutes = 7
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for invalid slot_minutes")
	}
}

func TestValidateRejectsBadSocBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatteryMinSocPercent = 90
	cfg.BatteryMaxSocPercent = 50
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for min_soc > max_soc")
	}
}

func TestValidateRequiresParamBoundsForTunables(t *testing.T) {
	cfg := DefaultConfig()
	delete(cfg.ParamBounds, "s_index.base_factor")
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing param_bounds entry")
	}
}

func TestValidateRejectsUnknownSIndexMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SIndexMode = "adaptive"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown s_index_mode")
	}
}
