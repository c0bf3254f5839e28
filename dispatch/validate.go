package dispatch

import (
	"fmt"
	"strings"
)

const (
	maxSKULength      = 100
	maxQuantity       = 999_999_999
	maxLocationLength = 20
)

// skuInvalidChars are rejected anywhere in a SKU.
const skuInvalidChars = `/\?<>|"*`

// Validate rejects malformed operations before they are queued.
func Validate(op Operation) error {
	if strings.TrimSpace(op.Endpoint) == "" {
		return &ValidationError{Field: "endpoint", Reason: "cannot be empty"}
	}

	if v, ok := op.Params["Sku"]; ok {
		sku, _ := v.(string)
		if err := ValidateSKU(sku); err != nil {
			return err
		}
	}
	if v, ok := op.Params["Quantity"]; ok {
		qty, ok := intParam(v)
		if !ok {
			return &ValidationError{Field: "Quantity", Reason: "must be an integer"}
		}
		if err := ValidateQuantity(qty); err != nil {
			return err
		}
	}
	if v, ok := op.Params["WarehouseId"]; ok {
		id, ok := intParam(v)
		if !ok {
			return &ValidationError{Field: "WarehouseId", Reason: "must be an integer"}
		}
		if err := ValidateWarehouseID(id); err != nil {
			return err
		}
	}
	if v, ok := op.Params["LocationCode"]; ok {
		code, _ := v.(string)
		if err := ValidateLocationCode(code); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSKU checks SKU format against the remote API's requirements.
func ValidateSKU(sku string) error {
	if sku == "" {
		return &ValidationError{Field: "Sku", Reason: "cannot be empty"}
	}
	if len(sku) > maxSKULength {
		return &ValidationError{Field: "Sku", Reason: fmt.Sprintf("cannot exceed %d characters", maxSKULength)}
	}
	if i := strings.IndexAny(sku, skuInvalidChars); i >= 0 {
		return &ValidationError{Field: "Sku", Reason: fmt.Sprintf("cannot contain character %q", sku[i])}
	}
	if sku != strings.TrimSpace(sku) {
		return &ValidationError{Field: "Sku", Reason: "cannot have leading or trailing whitespace"}
	}
	return nil
}

// ValidateQuantity checks quantity bounds.
func ValidateQuantity(qty int64) error {
	if qty < 0 {
		return &ValidationError{Field: "Quantity", Reason: "cannot be negative"}
	}
	if qty > maxQuantity {
		return &ValidationError{Field: "Quantity", Reason: "exceeds maximum allowed value"}
	}
	return nil
}

// ValidateWarehouseID checks warehouse identifiers.
func ValidateWarehouseID(id int64) error {
	if id <= 0 {
		return &ValidationError{Field: "WarehouseId", Reason: "must be positive"}
	}
	return nil
}

// ValidateLocationCode checks location code format: uppercase
// alphanumerics and dashes, at most 20 characters. Empty is allowed
// (the field is optional on several endpoints).
func ValidateLocationCode(code string) error {
	if code == "" {
		return nil
	}
	if len(code) > maxLocationLength {
		return &ValidationError{Field: "LocationCode", Reason: fmt.Sprintf("cannot exceed %d characters", maxLocationLength)}
	}
	for _, r := range code {
		switch {
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '-':
		default:
			return &ValidationError{Field: "LocationCode", Reason: "must contain only uppercase letters, digits, and dashes"}
		}
	}
	return nil
}

// intParam coerces the numeric types JSON decoding and direct callers
// produce into an int64.
func intParam(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
