// Package webhook turns storefront order notifications into order facts.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrUnknownPlatform = errors.New("unknown platform")
	ErrMissingAmount   = errors.New("missing amount")
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidPayload  = errors.New("invalid payload")
)

// Order is what an adapter extracts from a payload. Amount is nil only when
// the platform contract allows the field to be absent.
type Order struct {
	Platform string
	Amount   *int64
	OrderID  string
	BuyerID  string
}

// Adapter extracts an order from one platform's payload shape.
type Adapter func(payload []byte) (*Order, error)

var adapters = map[string]Adapter{
	"smartstore": parseSmartstore,
	"tosspay":    parseTosspay,
	"cafe24":     parseCafe24,
	"generic":    parseGeneric,
}

// Platforms lists the supported platform names.
func Platforms() []string {
	out := make([]string, 0, len(adapters))
	for p := range adapters {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Parse dispatches payload to the platform's adapter.
func Parse(platform string, payload []byte) (*Order, error) {
	platform = strings.ToLower(strings.TrimSpace(platform))
	adapt, ok := adapters[platform]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	o, err := adapt(payload)
	if err != nil {
		return nil, err
	}
	o.Platform = platform
	return o, nil
}

// Reason maps a parse error to a short machine-readable reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUnknownPlatform):
		return "unknown_platform"
	case errors.Is(err, ErrMissingAmount):
		return "missing_amount"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	default:
		return "error"
	}
}

// smartstore: {"order": {"orderId": ..., "payment": {"totalAmount": ...}}}
func parseSmartstore(payload []byte) (*Order, error) {
	var p struct {
		Order struct {
			OrderID   json.RawMessage `json:"orderId"`
			OrdererID string          `json:"ordererId"`
			Payment   struct {
				TotalAmount json.RawMessage `json:"totalAmount"`
			} `json:"payment"`
		} `json:"order"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	amount, err := requiredAmount(p.Order.Payment.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &Order{Amount: amount, OrderID: scalar(p.Order.OrderID), BuyerID: p.Order.OrdererID}, nil
}

// tosspay: {"orderId": ..., "totalAmount": ...}
func parseTosspay(payload []byte) (*Order, error) {
	var p struct {
		OrderID     json.RawMessage `json:"orderId"`
		TotalAmount json.RawMessage `json:"totalAmount"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	amount, err := requiredAmount(p.TotalAmount)
	if err != nil {
		return nil, err
	}
	return &Order{Amount: amount, OrderID: scalar(p.OrderID)}, nil
}

// cafe24: {"orders": [{"order_id": ..., "member_id": ..., "payment_amount": ...}]}.
// An empty or absent orders array is an order of amount 0.
func parseCafe24(payload []byte) (*Order, error) {
	var p struct {
		Orders []struct {
			OrderID       json.RawMessage `json:"order_id"`
			MemberID      string          `json:"member_id"`
			PaymentAmount json.RawMessage `json:"payment_amount"`
		} `json:"orders"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	if len(p.Orders) == 0 {
		zero := int64(0)
		return &Order{Amount: &zero}, nil
	}
	first := p.Orders[0]
	amount, err := requiredAmount(first.PaymentAmount)
	if err != nil {
		return nil, err
	}
	return &Order{Amount: amount, OrderID: scalar(first.OrderID), BuyerID: first.MemberID}, nil
}

// generic: {"amount": ..., "order_id": ..., "buyer_id": ...}, amount optional.
func parseGeneric(payload []byte) (*Order, error) {
	var p struct {
		Amount  json.RawMessage `json:"amount"`
		OrderID json.RawMessage `json:"order_id"`
		BuyerID string          `json:"buyer_id"`
	}
	if err := decode(payload, &p); err != nil {
		return nil, err
	}
	o := &Order{OrderID: scalar(p.OrderID), BuyerID: p.BuyerID}
	if !absent(p.Amount) {
		amount, err := ParseAmount(p.Amount)
		if err != nil {
			return nil, err
		}
		o.Amount = &amount
	}
	return o, nil
}

func decode(payload []byte, v interface{}) error {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func requiredAmount(raw json.RawMessage) (*int64, error) {
	if absent(raw) {
		return nil, ErrMissingAmount
	}
	v, err := ParseAmount(raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// ParseAmount accepts a non-negative integral JSON number or a numeric
// string such as "12900" or "12,900".
func ParseAmount(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	var s string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
		}
		s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	} else {
		s = string(raw)
	}

	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("%w: negative %d", ErrInvalidAmount, v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmount, raw)
	}
	return int64(f), nil
}

func scalar(raw json.RawMessage) string {
	if absent(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
