package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductItem is a modifier that can be attached to a product, e.g. "extra cheese"
type ProductItem struct {
	ID              int64           `json:"id"`
	Name            string          `json:"name"`
	AdditionalPrice decimal.Decimal `json:"additional_price"`
	IsDefault       bool            `json:"is_default"`
}

// Product represents a catalog entry
type Product struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Items     []ProductItem   `json:"items"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// FindItem returns the modifier with the given id
func (p *Product) FindItem(id int64) (*ProductItem, bool) {
	for i := range p.Items {
		if p.Items[i].ID == id {
			return &p.Items[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy of the product
func (p *Product) Clone() *Product {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Items = append([]ProductItem(nil), p.Items...)
	return &cp
}
