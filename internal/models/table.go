package models

import (
	"fmt"
	"time"
)

// TableStatus represents the occupancy of a table
type TableStatus string

const (
	TableAvailable TableStatus = "available"
	TableOccupied  TableStatus = "occupied"
	TableReserved  TableStatus = "reserved"
)

// Table represents a dining table
type Table struct {
	ID        int64       `json:"id"`
	Number    int         `json:"table_number"`
	Status    TableStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// ParseTableStatus validates a table status string
func ParseTableStatus(s string) (TableStatus, error) {
	switch TableStatus(s) {
	case TableAvailable, TableOccupied, TableReserved:
		return TableStatus(s), nil
	default:
		return "", fmt.Errorf("table status %q: %w", s, ErrInvalidArgument)
	}
}
