package domain

import "time"

type Product struct {
	ID          int64  `db:"id"`
	Name        string `db:"name"`
	Description string `db:"description"`
	Price       int64  `db:"price"`
	SalePrice   *int64 `db:"sale_price"`
	Stock       int64  `db:"stock"`
	ImageURL    string `db:"image_url"`
	Category    string `db:"category"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// EffectivePrice is the sale price when one is set, the list price otherwise.
func (p *Product) EffectivePrice() int64 {
	if p.SalePrice != nil && *p.SalePrice < p.Price {
		return *p.SalePrice
	}

	return p.Price
}
