package cache

import (
	"strings"
	"testing"
)

func TestDefaultKeyer_Deterministic(t *testing.T) {
	keyer := NewDefaultKeyer()

	params := map[string]any{
		"Sku":        "ABC123",
		"PageNumber": 0,
		"PageSize":   100,
	}

	first, err := keyer.Key("product", "getProduct", params)
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}

	// Same params must produce the same key regardless of map iteration order
	for i := 0; i < 50; i++ {
		again, err := keyer.Key("product", "getProduct", map[string]any{
			"PageSize":   100,
			"Sku":        "ABC123",
			"PageNumber": 0,
		})
		if err != nil {
			t.Fatalf("Key failed: %v", err)
		}
		if again != first {
			t.Fatalf("key not deterministic: %v != %v", again, first)
		}
	}
}

func TestDefaultKeyer_CredentialsExcluded(t *testing.T) {
	keyer := NewDefaultKeyer()

	base, err := keyer.Key("product", "getProduct", map[string]any{"Sku": "ABC123"})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}

	withCreds, err := keyer.Key("product", "getProduct", map[string]any{
		"Sku":         "ABC123",
		"TenantToken": "tenant-secret",
		"UserToken":   "user-secret",
	})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}

	if base != withCreds {
		t.Errorf("credential params changed the key: %v != %v", withCreds, base)
	}
}

func TestDefaultKeyer_DistinctInputs(t *testing.T) {
	keyer := NewDefaultKeyer()

	tests := []struct {
		name      string
		endpointA string
		paramsA   map[string]any
		endpointB string
		paramsB   map[string]any
	}{
		{
			name:      "different sku",
			endpointA: "getProduct", paramsA: map[string]any{"Sku": "ABC123"},
			endpointB: "getProduct", paramsB: map[string]any{"Sku": "ABC124"},
		},
		{
			name:      "different endpoint",
			endpointA: "getProduct", paramsA: map[string]any{"Sku": "ABC123"},
			endpointB: "getProducts", paramsB: map[string]any{"Sku": "ABC123"},
		},
		{
			name:      "different page",
			endpointA: "getProducts", paramsA: map[string]any{"PageNumber": 0},
			endpointB: "getProducts", paramsB: map[string]any{"PageNumber": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := keyer.Key("product", tt.endpointA, tt.paramsA)
			if err != nil {
				t.Fatalf("Key failed: %v", err)
			}
			b, err := keyer.Key("product", tt.endpointB, tt.paramsB)
			if err != nil {
				t.Fatalf("Key failed: %v", err)
			}
			if a == b {
				t.Errorf("distinct inputs produced the same key %v", a)
			}
		})
	}
}

func TestDefaultKeyer_IdentifierSegments(t *testing.T) {
	keyer := NewDefaultKeyer()

	key, err := keyer.Key("Inventory", "getInventoryByLocation", map[string]any{
		"Sku":          "ABC123",
		"WarehouseId":  7,
		"LocationCode": "A-1",
	})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}

	if key.Category != "inventory" {
		t.Errorf("Category = %q, want lowercased %q", key.Category, "inventory")
	}
	if key.Identifier != "sku:ABC123:warehouse:7:location:A-1" {
		t.Errorf("Identifier = %q", key.Identifier)
	}
	if len(key.Hash) != 16 {
		t.Errorf("Hash length = %d, want 16", len(key.Hash))
	}

	flat := key.String()
	if !strings.HasPrefix(flat, "inventory:sku:ABC123:") {
		t.Errorf("String() = %q, want inventory:sku:ABC123: prefix", flat)
	}
}

func TestDefaultKeyer_NestedParams(t *testing.T) {
	keyer := NewDefaultKeyer()

	a, err := keyer.Key("products", "getProducts", map[string]any{
		"Filter": map[string]any{"Brand": "Acme", "Active": true},
		"Skus":   []any{"A", "B"},
	})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	b, err := keyer.Key("products", "getProducts", map[string]any{
		"Skus":   []any{"A", "B"},
		"Filter": map[string]any{"Active": true, "Brand": "Acme"},
	})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if a != b {
		t.Errorf("nested map ordering changed the key: %v != %v", a, b)
	}

	// Slice order is significant
	c, err := keyer.Key("products", "getProducts", map[string]any{
		"Filter": map[string]any{"Brand": "Acme", "Active": true},
		"Skus":   []any{"B", "A"},
	})
	if err != nil {
		t.Fatalf("Key failed: %v", err)
	}
	if c == a {
		t.Error("slice reordering should change the key")
	}
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		name string
		key  Key
		want string
	}{
		{"full", Key{Category: "product", Identifier: "sku:X", Hash: "ab"}, "product:sku:X:ab"},
		{"no identifier", Key{Category: "warehouses", Hash: "cd"}, "warehouses:cd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}
