package portfolio

import (
	"github.com/shopspring/decimal"

	"github.com/puneethgb098/MidFrequencyTradingSystem/internal/config"
)

// CommissionModel computes per-fill fees as a function of turnover only.
// Brokerage is capped, statutory and transaction charges are flat rates on
// turnover, and tax applies to brokerage plus transaction charges. The
// constants come from configuration; verify them against the target
// market's actual fee schedule before trusting the numbers.
type CommissionModel struct {
	brokerageCap    decimal.Decimal
	brokerageRate   decimal.Decimal
	statutoryRate   decimal.Decimal
	transactionRate decimal.Decimal
	taxRate         decimal.Decimal
}

// NewCommissionModel builds a model from configuration.
func NewCommissionModel(cfg config.CommissionConfig) *CommissionModel {
	return &CommissionModel{
		brokerageCap:    decimal.NewFromFloat(cfg.BrokerageCap),
		brokerageRate:   decimal.NewFromFloat(cfg.BrokerageRate),
		statutoryRate:   decimal.NewFromFloat(cfg.StatutoryRate),
		transactionRate: decimal.NewFromFloat(cfg.TransactionRate),
		taxRate:         decimal.NewFromFloat(cfg.TaxRate),
	}
}

// Calculate returns the total charge for a fill of |quantity| at price.
// Computed once per fill, never retroactively adjusted.
func (m *CommissionModel) Calculate(quantity int64, price decimal.Decimal) decimal.Decimal {
	if quantity < 0 {
		quantity = -quantity
	}
	turnover := price.Mul(decimal.NewFromInt(quantity))

	brokerage := decimal.Min(m.brokerageCap, turnover.Mul(m.brokerageRate))
	statutory := turnover.Mul(m.statutoryRate)
	transaction := turnover.Mul(m.transactionRate)
	tax := brokerage.Add(transaction).Mul(m.taxRate)

	return brokerage.Add(statutory).Add(transaction).Add(tax)
}
