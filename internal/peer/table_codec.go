package peer

import (
	"encoding/json"
	"fmt"

	"github.com/vladislavdragonenkov/tableorders/internal/domain"
)

const (
	fieldID     = "id"
	fieldOrders = "orders"
)

// decodeTable разбирает JSON стола: id и orders интерпретируются,
// остальные поля сохраняются в Extra как json.RawMessage байт-в-байт.
func decodeTable(raw []byte) (domain.Table, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return domain.Table{}, err
	}

	var table domain.Table
	if v, ok := fields[fieldID]; ok {
		if err := json.Unmarshal(v, &table.ID); err != nil {
			return domain.Table{}, fmt.Errorf("field %s: %w", fieldID, err)
		}
		delete(fields, fieldID)
	}
	if v, ok := fields[fieldOrders]; ok {
		if err := json.Unmarshal(v, &table.Orders); err != nil {
			return domain.Table{}, fmt.Errorf("field %s: %w", fieldOrders, err)
		}
		delete(fields, fieldOrders)
	}

	if len(fields) > 0 {
		table.Extra = make(map[string]any, len(fields))
		for k, v := range fields {
			table.Extra[k] = v
		}
	}
	return table, nil
}

// encodeTable собирает JSON стола для PUT вместе с сохранёнными полями.
func encodeTable(table domain.Table) ([]byte, error) {
	payload := make(map[string]any, len(table.Extra)+2)
	for k, v := range table.Extra {
		payload[k] = v
	}
	orders := table.Orders
	if orders == nil {
		orders = []string{}
	}
	payload[fieldID] = table.ID
	payload[fieldOrders] = orders
	return json.Marshal(payload)
}
