package mongostore

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"restaurant-orders/internal/models"
)

type productItemDoc struct {
	ID              int64                `bson:"id"`
	Name            string               `bson:"name"`
	AdditionalPrice primitive.Decimal128 `bson:"additional_price"`
	IsDefault       bool                 `bson:"is_default"`
}

type productDoc struct {
	ID        int64                `bson:"_id"`
	Name      string               `bson:"name"`
	Price     primitive.Decimal128 `bson:"price"`
	Items     []productItemDoc     `bson:"items"`
	CreatedAt time.Time            `bson:"created_at"`
	UpdatedAt time.Time            `bson:"updated_at"`
}

type tableDoc struct {
	ID        int64     `bson:"_id"`
	Number    int       `bson:"table_number"`
	Status    string    `bson:"status"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

type modificationDoc struct {
	ProductItemID *int64               `bson:"product_item_id,omitempty"`
	Type          string               `bson:"modification_type"`
	PriceChange   primitive.Decimal128 `bson:"price_change"`
}

type orderItemDoc struct {
	ID            int64                `bson:"id"`
	ProductID     int64                `bson:"product_id"`
	Quantity      int                  `bson:"quantity"`
	UnitPrice     primitive.Decimal128 `bson:"unit_price"`
	Notes         string               `bson:"notes,omitempty"`
	Modifications []modificationDoc    `bson:"modifications"`
	Status        string               `bson:"status"`
	CreatedAt     time.Time            `bson:"created_at"`
}

type orderDoc struct {
	ID          int64                `bson:"_id"`
	TableID     int64                `bson:"table_id"`
	Status      string               `bson:"status"`
	Items       []orderItemDoc       `bson:"items"`
	TotalPrice  primitive.Decimal128 `bson:"total_price"`
	CreatedAt   time.Time            `bson:"created_at"`
	UpdatedAt   time.Time            `bson:"updated_at"`
	ReadyAt     *time.Time           `bson:"ready_at,omitempty"`
	CompletedAt *time.Time           `bson:"completed_at,omitempty"`
}

func toDecimal128(d decimal.Decimal) (primitive.Decimal128, error) {
	out, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("convert %s to decimal128: %w", d, err)
	}
	return out, nil
}

func fromDecimal128(d primitive.Decimal128) (decimal.Decimal, error) {
	out, err := decimal.NewFromString(d.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("convert decimal128 %s: %w", d, err)
	}
	return out, nil
}

func tableFromDoc(d tableDoc) *models.Table {
	return &models.Table{
		ID:        d.ID,
		Number:    d.Number,
		Status:    models.TableStatus(d.Status),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

func productToDoc(p *models.Product) (productDoc, error) {
	price, err := toDecimal128(p.Price)
	if err != nil {
		return productDoc{}, err
	}
	doc := productDoc{
		ID:        p.ID,
		Name:      p.Name,
		Price:     price,
		Items:     make([]productItemDoc, 0, len(p.Items)),
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
	for _, it := range p.Items {
		add, err := toDecimal128(it.AdditionalPrice)
		if err != nil {
			return productDoc{}, err
		}
		doc.Items = append(doc.Items, productItemDoc{
			ID:              it.ID,
			Name:            it.Name,
			AdditionalPrice: add,
			IsDefault:       it.IsDefault,
		})
	}
	return doc, nil
}

func productFromDoc(d productDoc) (*models.Product, error) {
	price, err := fromDecimal128(d.Price)
	if err != nil {
		return nil, err
	}
	p := &models.Product{
		ID:        d.ID,
		Name:      d.Name,
		Price:     price,
		Items:     make([]models.ProductItem, 0, len(d.Items)),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
	for _, it := range d.Items {
		add, err := fromDecimal128(it.AdditionalPrice)
		if err != nil {
			return nil, err
		}
		p.Items = append(p.Items, models.ProductItem{
			ID:              it.ID,
			Name:            it.Name,
			AdditionalPrice: add,
			IsDefault:       it.IsDefault,
		})
	}
	return p, nil
}

func orderToDoc(o *models.Order) (orderDoc, error) {
	total, err := toDecimal128(o.TotalPrice)
	if err != nil {
		return orderDoc{}, err
	}
	doc := orderDoc{
		ID:          o.ID,
		TableID:     o.TableID,
		Status:      string(o.Status),
		Items:       make([]orderItemDoc, 0, len(o.Items)),
		TotalPrice:  total,
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
		ReadyAt:     o.ReadyAt,
		CompletedAt: o.CompletedAt,
	}
	for _, it := range o.Items {
		unit, err := toDecimal128(it.UnitPrice)
		if err != nil {
			return orderDoc{}, err
		}
		item := orderItemDoc{
			ID:            it.ID,
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			UnitPrice:     unit,
			Notes:         it.Notes,
			Modifications: make([]modificationDoc, 0, len(it.Modifications)),
			Status:        string(it.Status),
			CreatedAt:     it.CreatedAt,
		}
		for _, m := range it.Modifications {
			change, err := toDecimal128(m.PriceChange)
			if err != nil {
				return orderDoc{}, err
			}
			item.Modifications = append(item.Modifications, modificationDoc{
				ProductItemID: m.ProductItemID,
				Type:          m.Type,
				PriceChange:   change,
			})
		}
		doc.Items = append(doc.Items, item)
	}
	return doc, nil
}

func orderFromDoc(d orderDoc) (*models.Order, error) {
	total, err := fromDecimal128(d.TotalPrice)
	if err != nil {
		return nil, err
	}
	o := &models.Order{
		ID:          d.ID,
		TableID:     d.TableID,
		Status:      models.OrderStatus(d.Status),
		Items:       make([]models.OrderItem, 0, len(d.Items)),
		TotalPrice:  total,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		ReadyAt:     d.ReadyAt,
		CompletedAt: d.CompletedAt,
	}
	for _, it := range d.Items {
		unit, err := fromDecimal128(it.UnitPrice)
		if err != nil {
			return nil, err
		}
		item := models.OrderItem{
			ID:            it.ID,
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			UnitPrice:     unit,
			Notes:         it.Notes,
			Modifications: make([]models.Modification, 0, len(it.Modifications)),
			Status:        models.ItemStatus(it.Status),
			CreatedAt:     it.CreatedAt,
		}
		for _, m := range it.Modifications {
			change, err := fromDecimal128(m.PriceChange)
			if err != nil {
				return nil, err
			}
			item.Modifications = append(item.Modifications, models.Modification{
				ProductItemID: m.ProductItemID,
				Type:          m.Type,
				PriceChange:   change,
			})
		}
		o.Items = append(o.Items, item)
	}
	return o, nil
}
