package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes the level as [price, quantity].
func (l OrderBookLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{l.Price, l.Quantity})
}

// UnmarshalJSON accepts both [price, quantity] and {"price":..,"quantity":..}.
func (l *OrderBookLevel) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var pair []float64
		if err := json.Unmarshal(b, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("%w: level must have 2 elements, got %d", ErrInvalidSample, len(pair))
		}
		l.Price, l.Quantity = pair[0], pair[1]
		return nil
	}
	var obj struct {
		Price    float64 `json:"price"`
		Quantity float64 `json:"quantity"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	l.Price, l.Quantity = obj.Price, obj.Quantity
	return nil
}
