package event

import (
	"math"
	"strings"
	"testing"
	"time"
)

type bounds struct {
	lo, hi float64
	unit   Unit
}

var measurementBounds = map[string]bounds{
	"SessionDuration":       {10, 3600, UnitSeconds},
	"PageViews":             {1, 50, UnitCount},
	"BounceRate":            {20, 80, UnitPercent},
	"LoadTime":              {100, 2000, UnitMilliseconds},
	"OrderValue":            {10, 500, UnitNone},
	"ItemsPerOrder":         {1, 10, UnitCount},
	"OrderProcessingTime":   {500, 3000, UnitMilliseconds},
	"CartAbandonmentRate":   {20, 40, UnitPercent},
	"PaymentProcessingTime": {100, 2000, UnitMilliseconds},
	"PaymentSuccess":        {0, 1, UnitCount},
	"PaymentFailure":        {0, 1, UnitCount},
	"TransactionValue":      {10, 500, UnitNone},
	"StockLevel":            {0, 1000, UnitCount},
	"StockValue":            {0, 100000, UnitNone},
	"OutOfStock":            {0, 1, UnitCount},
	"LowStock":              {0, 1, UnitCount},
	"CPUUtilization":        {20, 95, UnitPercent},
	"MemoryUtilization":     {30, 85, UnitPercent},
	"LatencyP95":            {50, 500, UnitMilliseconds},
	"ErrorRate":             {0, 5, UnitPercent},
}

func TestSample_MeasurementsWithinRange(t *testing.T) {
	r := NewLockedRand(7)
	for i := 0; i < 20000; i++ {
		ev := Sample(r)
		if len(ev.Measurements) != 8 {
			t.Fatalf("expected 8 measurements for %s, got %d", ev.Kind, len(ev.Measurements))
		}
		for _, m := range ev.Measurements {
			b, ok := measurementBounds[m.Name]
			if !ok {
				t.Fatalf("unexpected measurement %q", m.Name)
			}
			if m.Value < b.lo || m.Value > b.hi {
				t.Fatalf("%s=%v outside [%v,%v]", m.Name, m.Value, b.lo, b.hi)
			}
			if m.Unit != b.unit {
				t.Fatalf("%s unit=%s, want %s", m.Name, m.Unit, b.unit)
			}
		}
	}
}

func TestSample_PayloadFieldsWithinRange(t *testing.T) {
	r := NewLockedRand(11)
	seen := map[Kind]int{}
	for i := 0; i < 20000; i++ {
		ev := Sample(r)
		seen[ev.Kind]++
		switch ev.Kind {
		case KindOrder:
			o := ev.Order
			if o.Items < 1 || o.Items > 10 {
				t.Fatalf("items out of range: %d", o.Items)
			}
			if o.Total < 10 || o.Total > 500 {
				t.Fatalf("total out of range: %v", o.Total)
			}
			if math.Abs(o.Total*100-math.Round(o.Total*100)) > 1e-6 {
				t.Fatalf("total has more than 2 decimals: %v", o.Total)
			}
			if o.Currency != "USD" || !strings.HasPrefix(o.OrderID, "ord_") {
				t.Fatalf("unexpected order: %+v", o)
			}
		case KindPayment:
			p := ev.Payment
			if p.ProcessingTime < 100 || p.ProcessingTime > 2000 {
				t.Fatalf("processing time out of range: %d", p.ProcessingTime)
			}
			if p.Status != "success" && p.Status != "failed" {
				t.Fatalf("unexpected status %q", p.Status)
			}
			if ev.Dimensions["PaymentMethod"] != p.Method || ev.Dimensions["PaymentStatus"] != p.Status {
				t.Fatalf("payment dimensions do not match payload: %v", ev.Dimensions)
			}
		case KindInventory:
			inv := ev.Inventory
			if inv.Quantity < 0 || inv.Quantity > 1000 {
				t.Fatalf("quantity out of range: %d", inv.Quantity)
			}
			if inv.ReorderPoint < 50 || inv.ReorderPoint > 200 {
				t.Fatalf("reorder point out of range: %d", inv.ReorderPoint)
			}
			switch inv.Warehouse {
			case "wh_1", "wh_2", "wh_3", "wh_4", "wh_5":
			default:
				t.Fatalf("unexpected warehouse %q", inv.Warehouse)
			}
			low, _ := ev.Measurement("LowStock")
			if (low.Value == 1) != (inv.Quantity < inv.ReorderPoint) {
				t.Fatalf("LowStock inconsistent with payload %+v", inv)
			}
		case KindUserSession:
			s := ev.UserSession
			if ev.Dimensions["DeviceType"] != s.DeviceType || ev.Dimensions["Browser"] != s.Browser {
				t.Fatalf("session dimensions do not match payload: %v", ev.Dimensions)
			}
		}
		if ev.Payload() == nil || ev.PropertyName() == "" {
			t.Fatalf("event %s has no payload", ev.Kind)
		}
		for _, k := range []string{"Service", "Environment", "Region"} {
			if ev.Dimensions[k] == "" {
				t.Fatalf("missing baseline dimension %s", k)
			}
		}
	}
	for _, k := range Kinds {
		if seen[k] < 4000 {
			t.Fatalf("variant %s sampled %d times; expected roughly uniform", k, seen[k])
		}
	}
}

func TestSample_PaymentFailureRate(t *testing.T) {
	r := NewLockedRand(42)
	var payments, failed int
	for payments < 40000 {
		ev := Sample(r)
		if ev.Kind != KindPayment {
			continue
		}
		payments++
		if ev.Payment.Status == "failed" {
			failed++
		}
	}
	rate := float64(failed) / float64(payments)
	if rate < 0.23 || rate > 0.27 {
		t.Fatalf("failed rate %.4f not near 0.25", rate)
	}
}

func TestSampler_BaselineAndClock(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := Sampler{
		Baseline: Baseline{Service: "svc", Environment: "staging", Region: "eu-west-1"},
		Now:      func() time.Time { return fixed },
	}
	ev := s.Sample(NewLockedRand(1))
	if !ev.Timestamp.Equal(fixed) {
		t.Fatalf("timestamp %v, want %v", ev.Timestamp, fixed)
	}
	if ev.Dimensions["Service"] != "svc" || ev.Dimensions["Environment"] != "staging" || ev.Dimensions["Region"] != "eu-west-1" {
		t.Fatalf("unexpected baseline dimensions: %v", ev.Dimensions)
	}
}

func TestSample_DeterministicForSeed(t *testing.T) {
	fixed := func() time.Time { return time.Unix(1700000000, 0) }
	a := Sampler{Now: fixed}.Sample(NewLockedRand(99))
	b := Sampler{Now: fixed}.Sample(NewLockedRand(99))
	if a.Kind != b.Kind || len(a.Measurements) != len(b.Measurements) {
		t.Fatalf("same seed produced different events: %v vs %v", a.Kind, b.Kind)
	}
	for i := range a.Measurements {
		if a.Measurements[i] != b.Measurements[i] {
			t.Fatalf("measurement %d differs: %+v vs %+v", i, a.Measurements[i], b.Measurements[i])
		}
	}
}
