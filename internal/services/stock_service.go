package services

import (
	"context"

	"rentdesk/internal/domain"
	"rentdesk/internal/repos"
)

type StockService struct {
	Inv *repos.InventoryRepo
}

func NewStockService(inv *repos.InventoryRepo) *StockService {
	return &StockService{Inv: inv}
}

// AvailableUnits reports free units of an item and a display label
// (IN_STOCK / LOW_STOCK / OUT_OF_STOCK). The number is advisory: approval
// re-checks stock inside its own write.
func (s *StockService) AvailableUnits(ctx context.Context, itemID int64) (domain.Stock, error) {
	if itemID <= 0 {
		return domain.Stock{}, invalid("item id must be positive")
	}
	row, err := s.Inv.Stock(ctx, itemID)
	if err != nil {
		return domain.Stock{}, storeErr("available units", err)
	}
	return toStock(row), nil
}

func (s *StockService) Overview(ctx context.Context) ([]domain.Stock, error) {
	rows, err := s.Inv.ListAll(ctx)
	if err != nil {
		return nil, storeErr("stock overview", err)
	}
	out := make([]domain.Stock, 0, len(rows))
	for _, r := range rows {
		out = append(out, toStock(r))
	}
	return out, nil
}

func toStock(r repos.StockRow) domain.Stock {
	avail := r.Total - r.Rented
	if avail < 0 {
		avail = 0
	}
	status := "OUT_OF_STOCK"
	switch {
	case avail >= 5:
		status = "IN_STOCK"
	case avail > 0:
		status = "LOW_STOCK"
	}
	return domain.Stock{ItemID: r.ItemID, Title: r.Title, Total: r.Total, Rented: r.Rented, Available: avail, Status: status}
}
