package dispatch

import (
	"fmt"
	"sort"
	"strings"
)

// actionTitles maps known mutating endpoints to their display titles.
var actionTitles = map[string]string{
	"createProduct":   "Create Product",
	"updateProduct":   "Update Product",
	"setItemQuantity": "Set Item Quantity",
	"addItem":         "Add Inventory",
	"removeItem":      "Remove Inventory",
}

// BuildSummary renders the human-readable change description a caller
// must show before a mutation is confirmed.
func BuildSummary(op Operation) string {
	var b strings.Builder

	b.WriteString("CONFIRMATION REQUIRED: ")
	b.WriteString(actionTitle(op.Endpoint))
	b.WriteString("\n")

	keys := make([]string, 0, len(op.Params))
	for k := range op.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %v\n", k, op.Params[k])
	}

	if op.Destructive {
		b.WriteString("WARNING: this operation removes inventory and cannot be undone.\n")
	}

	b.WriteString("To proceed, resubmit the operation with this confirmation token.")
	return b.String()
}

// actionTitle humanizes an endpoint name: known endpoints use their
// catalog title, the rest get the camelCase split apart.
func actionTitle(endpoint string) string {
	if title, ok := actionTitles[endpoint]; ok {
		return title
	}

	var words []string
	start := 0
	for i, r := range endpoint {
		if i > 0 && r >= 'A' && r <= 'Z' {
			words = append(words, endpoint[start:i])
			start = i
		}
	}
	words = append(words, endpoint[start:])
	title := strings.Join(words, " ")
	if title == "" {
		return endpoint
	}
	return strings.ToUpper(title[:1]) + title[1:]
}
