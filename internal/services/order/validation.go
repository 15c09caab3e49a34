package order

import (
	"fmt"
	"strings"

	"restaurant-orders/internal/models"
)

// ValidationError describes a rejected request field
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap classifies validation failures as invalid arguments
func (e ValidationError) Unwrap() error {
	return models.ErrInvalidArgument
}

func trim(s string) string {
	return strings.TrimSpace(s)
}

// ValidateProductRequest checks a product creation request
func ValidateProductRequest(req *CreateProductRequest) error {
	if trim(req.Name) == "" {
		return ValidationError{Field: "name", Message: "product name is required"}
	}
	if len(req.Name) > 100 {
		return ValidationError{Field: "name", Message: "product name must be less than 100 characters"}
	}
	if req.Price == nil {
		return ValidationError{Field: "price", Message: "product price is required"}
	}
	if req.Price.IsNegative() {
		return ValidationError{Field: "price", Message: "product price must not be negative"}
	}

	for i, item := range req.Items {
		if trim(item.Name) == "" {
			return ValidationError{
				Field:   fmt.Sprintf("items[%d].name", i),
				Message: "item name is required",
			}
		}
		if item.AdditionalPrice != nil && item.AdditionalPrice.IsNegative() {
			return ValidationError{
				Field:   fmt.Sprintf("items[%d].additional_price", i),
				Message: fmt.Sprintf("invalid additional price for item %s", trim(item.Name)),
			}
		}
	}
	return nil
}

// ValidateTableRequest checks a table creation request
func ValidateTableRequest(req *CreateTableRequest) error {
	if req.Number < 1 {
		return ValidationError{Field: "table_number", Message: "table number must be at least 1"}
	}
	if req.Status != "" {
		if _, err := models.ParseTableStatus(req.Status); err != nil {
			return ValidationError{Field: "status", Message: "invalid table status"}
		}
	}
	return nil
}

// ValidateOrderRequest checks an order creation request
func ValidateOrderRequest(req *CreateOrderRequest) error {
	if req.TableID < 1 {
		return ValidationError{Field: "tableId", Message: "table id is required"}
	}
	for i, item := range req.Items {
		if err := validateItem(item, fmt.Sprintf("items[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}

// ValidateItemRequest checks a single item addition request
func ValidateItemRequest(req *OrderItemRequest) error {
	return validateItem(*req, "item")
}

func validateItem(item OrderItemRequest, prefix string) error {
	if item.ProductID < 1 {
		return ValidationError{
			Field:   prefix + ".productId",
			Message: "product id is required",
		}
	}
	if item.Quantity != nil && *item.Quantity < 1 {
		return ValidationError{
			Field:   prefix + ".quantity",
			Message: "item quantity must be greater than 0",
		}
	}
	return nil
}

// ValidateStatusRequest checks that a status was supplied
func ValidateStatusRequest(req *StatusRequest) error {
	if trim(req.Status) == "" {
		return ValidationError{Field: "status", Message: "status is required"}
	}
	return nil
}
