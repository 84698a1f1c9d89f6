package exchange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrRejected marks an action the venue accepted over HTTP but refused to apply.
var ErrRejected = errors.New("exchange rejected action")

type OrderStatus struct {
	OrderID    string
	Resting    bool
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
}

func (s OrderStatus) Filled() bool {
	return s.FilledSize.Sign() > 0
}

// CheckResponse turns a top-level "err" status or any per-item error status
// into an ErrRejected error.
func CheckResponse(resp map[string]any) error {
	if resp == nil {
		return fmt.Errorf("%w: empty response", ErrRejected)
	}
	if status := stringFromAny(resp["status"]); status != "" && status != "ok" {
		reason := stringFromAny(resp["response"])
		if reason == "" {
			reason = status
		}
		return fmt.Errorf("%w: %s", ErrRejected, reason)
	}
	for _, item := range statuses(resp) {
		if m, ok := item.(map[string]any); ok {
			if reason := stringFromAny(m["error"]); reason != "" {
				return fmt.Errorf("%w: %s", ErrRejected, reason)
			}
		}
	}
	return nil
}

// ParseOrderStatus reads the first order status of an order response.
func ParseOrderStatus(resp map[string]any) (OrderStatus, error) {
	if err := CheckResponse(resp); err != nil {
		return OrderStatus{}, err
	}
	out := OrderStatus{OrderID: OrderIDFromResponse(resp)}
	items := statuses(resp)
	if len(items) == 0 {
		return out, nil
	}
	first, ok := items[0].(map[string]any)
	if !ok {
		return out, nil
	}
	if _, ok := first["resting"].(map[string]any); ok {
		out.Resting = true
	}
	if filled, ok := first["filled"].(map[string]any); ok {
		out.FilledSize = decimalFromAny(filled["totalSz"])
		out.AvgPrice = decimalFromAny(filled["avgPx"])
	}
	return out, nil
}

func OrderIDFromResponse(resp map[string]any) string {
	if resp == nil {
		return ""
	}
	return orderIDFromAny(resp)
}

func statuses(resp map[string]any) []any {
	inner, ok := resp["response"].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := inner["data"].(map[string]any)
	if !ok {
		return nil
	}
	items, _ := data["statuses"].([]any)
	return items
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}

func decimalFromAny(v any) decimal.Decimal {
	switch val := v.(type) {
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero
		}
		return d
	case float64:
		return decimal.NewFromFloat(val)
	default:
		return decimal.Zero
	}
}

func orderIDFromAny(v any) string {
	switch val := v.(type) {
	case map[string]any:
		for _, key := range []string{"orderId", "orderID", "oid", "id"} {
			if id := stringFromAny(val[key]); id != "" {
				return id
			}
		}
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	case []any:
		for _, nested := range val {
			if id := orderIDFromAny(nested); id != "" {
				return id
			}
		}
	}
	return ""
}
