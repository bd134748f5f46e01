package domain

import (
	"errors"
	"fmt"
	"strings"
)

func (s Store) Validate() error {
	if strings.TrimSpace(s.ID) == "" {
		return errors.New("store id is required")
	}
	if strings.TrimSpace(s.Name) == "" {
		return errors.New("store name is required")
	}
	if s.Type != StoreTypeBranch && s.Type != StoreTypeMarket {
		return fmt.Errorf("store type %q is not supported", s.Type)
	}
	for key, price := range s.Prices {
		if price < 0 {
			return fmt.Errorf("price override for %s must be >= 0", key)
		}
	}
	return nil
}

func (p Product) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return errors.New("product id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return errors.New("product name is required")
	}
	if p.PriceBranch != nil && *p.PriceBranch < 0 {
		return errors.New("branch price must be >= 0")
	}
	if p.PriceMarket != nil && *p.PriceMarket < 0 {
		return errors.New("market price must be >= 0")
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("category id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return errors.New("category name is required")
	}
	return nil
}

func (l LineRecord) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errors.New("line id is required")
	}
	if strings.TrimSpace(l.ProductName) == "" {
		return errors.New("product name is required")
	}
	if l.Qty <= 0 {
		return errors.New("qty must be > 0")
	}
	if l.Price < 0 {
		return errors.New("price must be >= 0")
	}
	if l.Unit != UnitPiece && l.Unit != UnitKilogram {
		return fmt.Errorf("unit %q is not supported", l.Unit)
	}
	if l.CreatedAt <= 0 {
		return errors.New("created_at is required")
	}
	return nil
}

func (c CashReceipt) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("cash receipt id is required")
	}
	if c.Amount <= 0 {
		return errors.New("amount must be > 0")
	}
	if c.CreatedAt <= 0 {
		return errors.New("created_at is required")
	}
	return nil
}
