package cache

import (
	"testing"
	"time"
)

func TestPolicy_TTLFor(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		category string
		want     time.Duration
	}{
		{"warehouses", time.Hour},
		{"product", 5 * time.Minute},
		{"products", time.Minute},
		{"inventory", 30 * time.Second},
		{"unknown", 5 * time.Minute}, // default
	}

	for _, tt := range tests {
		t.Run(tt.category, func(t *testing.T) {
			if got := policy.TTLFor(tt.category); got != tt.want {
				t.Errorf("TTLFor(%q) = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

func TestPolicy_MaxTTLClamp(t *testing.T) {
	policy := Policy{
		TTLs:       map[string]time.Duration{"warehouses": 24 * time.Hour},
		DefaultTTL: time.Minute,
		MaxTTL:     time.Hour,
	}
	if got := policy.TTLFor("warehouses"); got != time.Hour {
		t.Errorf("TTLFor should clamp to MaxTTL, got %v", got)
	}
}

func TestPolicy_ShouldCache(t *testing.T) {
	if !DefaultPolicy().ShouldCache() {
		t.Error("DefaultPolicy should cache")
	}
	if NoCachePolicy().ShouldCache() {
		t.Error("NoCachePolicy should not cache")
	}
}
