package order

import (
	"github.com/shopspring/decimal"

	"restaurant-orders/internal/lifecycle"
	"restaurant-orders/internal/models"
)

// ProductItemRequest is a modifier in a product creation request
type ProductItemRequest struct {
	Name            string           `json:"name"`
	AdditionalPrice *decimal.Decimal `json:"additional_price,omitempty"`
	IsDefault       bool             `json:"is_default"`
}

// CreateProductRequest is the body of POST /api/products
type CreateProductRequest struct {
	Name  string               `json:"name"`
	Price *decimal.Decimal     `json:"price"`
	Items []ProductItemRequest `json:"items,omitempty"`
}

// CreateTableRequest is the body of POST /api/tables
type CreateTableRequest struct {
	Number int    `json:"table_number"`
	Status string `json:"status,omitempty"`
}

// ModificationRequest is a modification of an order item
type ModificationRequest struct {
	ProductItemID *int64           `json:"product_item_id,omitempty"`
	Type          string           `json:"modification_type,omitempty"`
	PriceChange   *decimal.Decimal `json:"price_change,omitempty"`
}

// OrderItemRequest is an item in an order creation or item addition request.
// A missing quantity means one.
type OrderItemRequest struct {
	ProductID     int64                 `json:"productId"`
	Quantity      *int                  `json:"quantity,omitempty"`
	Notes         string                `json:"notes,omitempty"`
	Modifications []ModificationRequest `json:"modifications,omitempty"`
}

// CreateOrderRequest is the body of POST /api/orders
type CreateOrderRequest struct {
	TableID int64              `json:"tableId"`
	Items   []OrderItemRequest `json:"items"`
}

// StatusRequest is the body of the status update endpoints
type StatusRequest struct {
	Status string `json:"status"`
}

// CreateOrderResponse is returned by POST /api/orders
type CreateOrderResponse struct {
	ID         int64              `json:"id"`
	TableID    int64              `json:"table_id"`
	Status     models.OrderStatus `json:"status"`
	TotalPrice decimal.Decimal    `json:"total_price"`
}

// toProduct normalizes a validated request into a catalog entry
func (r *CreateProductRequest) toProduct() *models.Product {
	p := &models.Product{
		Name:  trim(r.Name),
		Price: *r.Price,
		Items: make([]models.ProductItem, 0, len(r.Items)),
	}
	for _, it := range r.Items {
		extra := decimal.Zero
		if it.AdditionalPrice != nil {
			extra = *it.AdditionalPrice
		}
		p.Items = append(p.Items, models.ProductItem{
			Name:            trim(it.Name),
			AdditionalPrice: extra,
			IsDefault:       it.IsDefault,
		})
	}
	return p
}

func (r OrderItemRequest) toInput() lifecycle.ItemInput {
	in := lifecycle.ItemInput{
		ProductID: r.ProductID,
		Quantity:  1,
		Notes:     r.Notes,
	}
	if r.Quantity != nil {
		in.Quantity = *r.Quantity
	}
	for _, m := range r.Modifications {
		in.Modifications = append(in.Modifications, lifecycle.ModificationInput{
			ProductItemID: m.ProductItemID,
			Type:          m.Type,
			PriceChange:   m.PriceChange,
		})
	}
	return in
}

func toInputs(items []OrderItemRequest) []lifecycle.ItemInput {
	out := make([]lifecycle.ItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, it.toInput())
	}
	return out
}
