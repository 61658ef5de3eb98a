// Package rollup computes order-level profit and period summaries. The
// functions here are pure; Service loads their inputs from storage.
package rollup

import (
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jinzhu/now"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/opsledger/internal/money"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
)

const unspecifiedCompany = "unspecified"

// Methods indexes payment methods by code.
type Methods map[string]orderdomain.PaymentMethod

// ActiveMethods indexes the active methods; inactive ones behave as unknown.
func ActiveMethods(methods []orderdomain.PaymentMethod) Methods {
	index := make(Methods, len(methods))
	for _, m := range methods {
		if m.Active {
			index[strings.TrimSpace(m.Code)] = m
		}
	}
	return index
}

type OrderBreakdown struct {
	OrderID         snowflake.ID `json:"order_id"`
	Number          string       `json:"number"`
	Revenue         money.Money  `json:"revenue"`
	PaymentFee      money.Money  `json:"payment_fee"`
	ShippingWithTax money.Money  `json:"shipping_with_tax"`
	ProductCost     money.Money  `json:"product_cost"`
	NetProfit       money.Money  `json:"net_profit"`
}

type CompanyShipping struct {
	Company string      `json:"company"`
	Total   money.Money `json:"total"`
}

type DailyProfit struct {
	Date      time.Time   `json:"date"`
	NetProfit money.Money `json:"net_profit"`
}

type Summary struct {
	LockedOrders    int64       `json:"locked_orders"`
	OpenOrders      int64       `json:"open_orders"`
	CancelledOrders int64       `json:"cancelled_orders"`
	TotalRevenue    money.Money `json:"total_revenue"`
	TotalFees       money.Money `json:"total_fees"`
	TotalShipping   money.Money `json:"total_shipping"`
	TotalCost       money.Money `json:"total_cost"`
	OtherExpenses   money.Money `json:"other_expenses"`
	NetProfit       money.Money `json:"net_profit"`
}

// PaymentFee is percentage-of-revenue plus the fixed fee. Unknown methods and
// zero revenue cost nothing.
func PaymentFee(revenue money.Money, code string, methods Methods) money.Money {
	if revenue.IsZero() {
		return money.Zero()
	}
	method, ok := methods[strings.TrimSpace(code)]
	if !ok {
		return money.Zero()
	}
	return revenue.MultiplyByRate(method.PercentageFee).Add(method.FixedFee)
}

func ShippingWithTax(shipping money.Money, taxRate decimal.Decimal) money.Money {
	return shipping.Mul(decimal.NewFromInt(1).Add(taxRate))
}

func ComputeOrder(order orderdomain.Order, methods Methods, taxRate decimal.Decimal) OrderBreakdown {
	cost := money.Zero()
	for _, item := range order.Items {
		cost = cost.Add(item.CostInclTax)
	}
	fee := PaymentFee(order.TotalPrice, order.PaymentMethodCode, methods)
	shipping := ShippingWithTax(order.ShippingCost, taxRate)

	return OrderBreakdown{
		OrderID:         order.ID,
		Number:          order.Number,
		Revenue:         order.TotalPrice,
		PaymentFee:      fee,
		ShippingWithTax: shipping,
		ProductCost:     cost,
		NetProfit:       order.TotalPrice.Sub(fee).Sub(shipping).Sub(cost),
	}
}

// Counted reports whether an order contributes to profit figures.
func Counted(order orderdomain.Order) bool {
	return order.Locked && !order.Cancelled()
}

// Summarize totals each term separately over counted orders and derives the
// net from those totals.
func Summarize(orders []orderdomain.Order, methods Methods, taxRate decimal.Decimal, otherExpenses money.Money) Summary {
	summary := Summary{
		TotalRevenue:  money.Zero(),
		TotalFees:     money.Zero(),
		TotalShipping: money.Zero(),
		TotalCost:     money.Zero(),
		OtherExpenses: otherExpenses,
	}
	for _, order := range orders {
		switch {
		case order.Cancelled():
			summary.CancelledOrders++
			continue
		case !order.Locked:
			summary.OpenOrders++
			continue
		}
		summary.LockedOrders++

		b := ComputeOrder(order, methods, taxRate)
		summary.TotalRevenue = summary.TotalRevenue.Add(b.Revenue)
		summary.TotalFees = summary.TotalFees.Add(b.PaymentFee)
		summary.TotalShipping = summary.TotalShipping.Add(b.ShippingWithTax)
		summary.TotalCost = summary.TotalCost.Add(b.ProductCost)
	}
	summary.NetProfit = summary.TotalRevenue.
		Sub(summary.TotalFees).
		Sub(summary.TotalShipping).
		Sub(summary.TotalCost).
		Sub(summary.OtherExpenses)
	return summary
}

// ShippingByCompany sums taxed shipping per carrier, largest first.
func ShippingByCompany(orders []orderdomain.Order, taxRate decimal.Decimal) []CompanyShipping {
	totals := make(map[string]money.Money)
	for _, order := range orders {
		if !Counted(order) {
			continue
		}
		company := strings.TrimSpace(order.ShippingCompany)
		if company == "" {
			company = unspecifiedCompany
		}
		totals[company] = totals[company].Add(ShippingWithTax(order.ShippingCost, taxRate))
	}

	out := make([]CompanyShipping, 0, len(totals))
	for company, total := range totals {
		out = append(out, CompanyShipping{Company: company, Total: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Total.Cmp(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Company < out[j].Company
	})
	return out
}

// DailyNetProfit returns one point per calendar day (UTC) for the days ending
// on end, oldest first.
func DailyNetProfit(orders []orderdomain.Order, methods Methods, taxRate decimal.Decimal, end time.Time, days int) []DailyProfit {
	if days <= 0 {
		return nil
	}
	last := now.With(end.UTC()).BeginningOfDay()
	first := last.AddDate(0, 0, -(days - 1))

	points := make([]DailyProfit, days)
	for i := range points {
		points[i] = DailyProfit{Date: first.AddDate(0, 0, i), NetProfit: money.Zero()}
	}
	for _, order := range orders {
		if !Counted(order) {
			continue
		}
		orderDay := now.With(order.OrderDate.UTC()).BeginningOfDay()
		if orderDay.Before(first) || orderDay.After(last) {
			continue
		}
		idx := int(orderDay.Sub(first).Hours() / 24)
		points[idx].NetProfit = points[idx].NetProfit.Add(ComputeOrder(order, methods, taxRate).NetProfit)
	}
	return points
}
