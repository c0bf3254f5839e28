package dispatch

// Cache/TTL categories. These line up with the rate limiter's category
// fallbacks and the cache policy's TTL table.
const (
	CategoryProduct    = "product"
	CategoryProducts   = "products"
	CategoryWarehouses = "warehouses"
	CategoryInventory  = "inventory"
	CategoryDefault    = "default"
)

// Operation is one logical call against the remote API. Immutable once
// submitted; the With* helpers return copies.
type Operation struct {
	// Endpoint is the remote endpoint name, e.g. "getProduct".
	Endpoint string

	// Category scopes cache TTL and invalidation.
	Category string

	// Params is the request payload before serialization.
	Params map[string]any

	// Mutating marks operations that change remote state and must pass
	// the confirmation gate.
	Mutating bool

	// Destructive marks mutations that remove inventory or data; their
	// confirmation summaries carry an explicit warning.
	Destructive bool

	// Priority orders queue dispatch; 0 is highest.
	Priority int

	// Bypass skips the confirmation gate. The only legitimate use is
	// non-interactive automation.
	Bypass bool

	// ConfirmToken resubmits a previously parked mutation.
	ConfirmToken string
}

// GetWarehouses lists all warehouses.
func GetWarehouses() Operation {
	return Operation{
		Endpoint: "getWarehouses",
		Category: CategoryWarehouses,
		Params:   map[string]any{},
	}
}

// GetProduct fetches one product by SKU.
func GetProduct(sku string) Operation {
	return Operation{
		Endpoint: "getProduct",
		Category: CategoryProduct,
		Params:   map[string]any{"Sku": sku},
	}
}

// GetProducts fetches a page of the product list.
func GetProducts(pageNumber, pageSize int) Operation {
	return Operation{
		Endpoint: "getProducts",
		Category: CategoryProducts,
		Params:   map[string]any{"PageNumber": pageNumber, "PageSize": pageSize},
	}
}

// CreateProduct creates a product from the given fields.
func CreateProduct(fields map[string]any) Operation {
	return Operation{
		Endpoint: "createProduct",
		Category: CategoryProducts,
		Params:   fields,
		Mutating: true,
	}
}

// UpdateProduct updates an existing product's fields.
func UpdateProduct(sku string, changes map[string]any) Operation {
	params := make(map[string]any, len(changes)+1)
	for k, v := range changes {
		params[k] = v
	}
	params["Sku"] = sku
	return Operation{
		Endpoint: "updateProduct",
		Category: CategoryProduct,
		Params:   params,
		Mutating: true,
	}
}

// GetInventoryByLocation fetches per-location quantities for a SKU.
func GetInventoryByLocation(sku string) Operation {
	return Operation{
		Endpoint: "getInventoryByLocation",
		Category: CategoryInventory,
		Params:   map[string]any{"Sku": sku},
	}
}

// SetItemQuantity overwrites the quantity of a SKU at a location.
func SetItemQuantity(sku string, warehouseID int, locationCode string, quantity int) Operation {
	return Operation{
		Endpoint: "setItemQuantity",
		Category: CategoryInventory,
		Params: map[string]any{
			"Sku":          sku,
			"WarehouseId":  warehouseID,
			"LocationCode": locationCode,
			"Quantity":     quantity,
		},
		Mutating: true,
	}
}

// AddItem adds inventory for a SKU at a location (receiving).
func AddItem(sku string, warehouseID int, locationCode string, quantity int) Operation {
	return Operation{
		Endpoint: "addItem",
		Category: CategoryInventory,
		Params: map[string]any{
			"Sku":          sku,
			"WarehouseId":  warehouseID,
			"LocationCode": locationCode,
			"Quantity":     quantity,
		},
		Mutating: true,
	}
}

// RemoveItem removes inventory for a SKU at a location (picking).
func RemoveItem(sku string, warehouseID int, locationCode string, quantity int) Operation {
	return Operation{
		Endpoint: "removeItem",
		Category: CategoryInventory,
		Params: map[string]any{
			"Sku":          sku,
			"WarehouseId":  warehouseID,
			"LocationCode": locationCode,
			"Quantity":     quantity,
		},
		Mutating:    true,
		Destructive: true,
	}
}

// RawCall addresses an endpoint outside the known catalog. Callers must
// classify it themselves; unknown categories get the most conservative
// rate limit and the default TTL.
func RawCall(endpoint string, params map[string]any, mutating bool) Operation {
	if params == nil {
		params = map[string]any{}
	}
	return Operation{
		Endpoint: endpoint,
		Category: CategoryDefault,
		Params:   params,
		Mutating: mutating,
	}
}

// WithPriority returns a copy of op with the given queue priority.
func (op Operation) WithPriority(p int) Operation {
	op.Priority = p
	return op
}

// WithBypass returns a copy of op that skips the confirmation gate.
func (op Operation) WithBypass() Operation {
	op.Bypass = true
	return op
}

// WithToken returns a copy of op carrying a confirmation token.
func (op Operation) WithToken(token string) Operation {
	op.ConfirmToken = token
	return op
}
