package rollup

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/opsledger/internal/money"
	orderdomain "github.com/smallbiznis/opsledger/internal/order/domain"
)

var taxRate = decimal.RequireFromString("0.15")

func testMethods() Methods {
	return ActiveMethods([]orderdomain.PaymentMethod{
		{Code: "card", Name: "Card", PercentageFee: decimal.RequireFromString("2"), FixedFee: money.MustParse("1"), Active: true},
		{Code: "legacy", Name: "Legacy", PercentageFee: decimal.RequireFromString("10"), FixedFee: money.MustParse("5"), Active: false},
	})
}

func scenarioOrder(date time.Time) orderdomain.Order {
	return orderdomain.Order{
		ID:                1,
		Number:            "1001",
		TotalPrice:        money.MustParse("230.00"),
		ShippingCost:      money.MustParse("20.00"),
		ShippingCompany:   "Aramex",
		PaymentMethodCode: "card",
		Status:            orderdomain.StatusDelivered,
		Locked:            true,
		OrderDate:         date,
		Items: []orderdomain.LineItem{
			{ID: 11, CostInclTax: money.MustParse("50.00")},
			{ID: 12, CostInclTax: money.MustParse("30.00")},
		},
	}
}

func cashOrder(date time.Time) orderdomain.Order {
	return orderdomain.Order{
		ID:                2,
		Number:            "1002",
		TotalPrice:        money.MustParse("100.00"),
		ShippingCost:      money.MustParse("10.00"),
		PaymentMethodCode: "cod",
		Status:            orderdomain.StatusShipped,
		Locked:            true,
		OrderDate:         date,
		Items:             []orderdomain.LineItem{{ID: 21, CostInclTax: money.MustParse("40.00")}},
	}
}

func TestComputeOrderScenario(t *testing.T) {
	b := ComputeOrder(scenarioOrder(time.Now()), testMethods(), taxRate)

	checks := map[string]struct{ got, want string }{
		"payment fee":       {b.PaymentFee.String(), "5.60"},
		"shipping with tax": {b.ShippingWithTax.String(), "23.00"},
		"product cost":      {b.ProductCost.String(), "80.00"},
		"net profit":        {b.NetProfit.String(), "121.40"},
	}
	for name, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: expected %s, got %s", name, c.want, c.got)
		}
	}
}

func TestPaymentFeeEdgeCases(t *testing.T) {
	methods := testMethods()

	if fee := PaymentFee(money.MustParse("100"), "cod", methods); !fee.IsZero() {
		t.Fatalf("unknown method should be free, got %s", fee)
	}
	if fee := PaymentFee(money.MustParse("100"), "legacy", methods); !fee.IsZero() {
		t.Fatalf("inactive method should be free, got %s", fee)
	}
	if fee := PaymentFee(money.Zero(), "card", methods); !fee.IsZero() {
		t.Fatalf("zero revenue should be free, got %s", fee)
	}
	if fee := PaymentFee(money.MustParse("99.99"), " card ", methods); fee.String() != "3.00" {
		t.Fatalf("expected 3.00, got %s", fee)
	}
}

func TestSummarizeTermWise(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	open := cashOrder(day)
	open.ID, open.Locked = 3, false
	cancelled := scenarioOrder(day)
	cancelled.ID, cancelled.Status = 4, orderdomain.StatusCancelled

	orders := []orderdomain.Order{scenarioOrder(day), cashOrder(day), open, cancelled}
	s := Summarize(orders, testMethods(), taxRate, money.MustParse("30"))

	if s.LockedOrders != 2 || s.OpenOrders != 1 || s.CancelledOrders != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	want := map[string]string{
		"revenue":  "330.00",
		"fees":     "5.60",
		"shipping": "34.50",
		"cost":     "120.00",
		"net":      "139.90",
	}
	got := map[string]string{
		"revenue":  s.TotalRevenue.String(),
		"fees":     s.TotalFees.String(),
		"shipping": s.TotalShipping.String(),
		"cost":     s.TotalCost.String(),
		"net":      s.NetProfit.String(),
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s: expected %s, got %s", k, v, got[k])
		}
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil, testMethods(), taxRate, money.MustParse("12.50"))
	if s.NetProfit.String() != "-12.50" {
		t.Fatalf("expected -12.50, got %s", s.NetProfit)
	}
}

func TestShippingByCompany(t *testing.T) {
	day := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	second := cashOrder(day)
	second.ID, second.ShippingCompany = 5, "Aramex"

	out := ShippingByCompany([]orderdomain.Order{scenarioOrder(day), cashOrder(day), second}, taxRate)
	if len(out) != 2 {
		t.Fatalf("expected 2 companies, got %d", len(out))
	}
	if out[0].Company != "Aramex" || out[0].Total.String() != "34.50" {
		t.Fatalf("unexpected first entry: %+v", out[0])
	}
	if out[1].Company != unspecifiedCompany || out[1].Total.String() != "11.50" {
		t.Fatalf("unexpected second entry: %+v", out[1])
	}
}

func TestDailyNetProfit(t *testing.T) {
	end := time.Date(2024, 6, 7, 15, 0, 0, 0, time.UTC)
	orders := []orderdomain.Order{
		scenarioOrder(time.Date(2024, 6, 7, 9, 0, 0, 0, time.UTC)),
		cashOrder(time.Date(2024, 6, 1, 23, 0, 0, 0, time.UTC)),
		cashOrder(time.Date(2024, 5, 31, 12, 0, 0, 0, time.UTC)),
	}

	points := DailyNetProfit(orders, testMethods(), taxRate, end, 7)
	if len(points) != 7 {
		t.Fatalf("expected 7 points, got %d", len(points))
	}
	if !points[0].Date.Equal(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected first day %s", points[0].Date)
	}
	if points[0].NetProfit.String() != "48.50" {
		t.Fatalf("expected 48.50 on first day, got %s", points[0].NetProfit)
	}
	if points[6].NetProfit.String() != "121.40" {
		t.Fatalf("expected 121.40 on last day, got %s", points[6].NetProfit)
	}
	for _, p := range points[1:6] {
		if !p.NetProfit.IsZero() {
			t.Fatalf("expected no profit on %s, got %s", p.Date, p.NetProfit)
		}
	}
}
