package event

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Rand is the entropy source consumed by the sampler.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// GlobalRand draws from the process-wide math/rand/v2 source. Safe for concurrent use.
func GlobalRand() Rand { return globalRand{} }

// LockedRand is a seeded source safe for concurrent use.
type LockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

// NewLockedRand returns a deterministic source for the given seed.
func NewLockedRand(seed uint64) *LockedRand {
	return &LockedRand{r: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (l *LockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

// between draws uniformly from [lo, hi].
func between(r Rand, lo, hi int) int {
	return lo + r.IntN(hi-lo+1)
}

func pick(r Rand, opts []string) string {
	return opts[r.IntN(len(opts))]
}

var (
	paymentMethods  = []string{"credit_card", "debit_card", "paypal", "crypto"}
	paymentStatuses = []string{"success", "success", "success", "failed"}
	deviceTypes     = []string{"mobile", "desktop", "tablet"}
	browsers        = []string{"chrome", "firefox", "safari", "edge"}
	locations       = []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1"}
)

// Baseline holds the dimensions attached to every event.
type Baseline struct {
	Service     string
	Environment string
	Region      string
}

// DefaultBaseline is the baseline used when none is configured.
var DefaultBaseline = Baseline{Service: "EcommerceApp", Environment: "Production", Region: "us-west-2"}

// Sampler generates DomainEvents. The zero value uses DefaultBaseline and time.Now.
type Sampler struct {
	Baseline Baseline
	Now      func() time.Time
}

// Sample generates one event with the default sampler.
func Sample(r Rand) DomainEvent {
	return Sampler{}.Sample(r)
}

// Sample generates one event. It only consumes entropy from r and reads the clock.
func (s Sampler) Sample(r Rand) DomainEvent {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	base := s.Baseline
	if base == (Baseline{}) {
		base = DefaultBaseline
	}

	ev := DomainEvent{
		Kind:      Kinds[r.IntN(len(Kinds))],
		Timestamp: now(),
		Dimensions: map[string]string{
			"Service":     base.Service,
			"Environment": base.Environment,
			"Region":      base.Region,
		},
	}

	switch ev.Kind {
	case KindUserSession:
		sess := &UserSession{
			UserID:     fmt.Sprintf("user_%d", between(r, 1, 1000000)),
			DeviceType: pick(r, deviceTypes),
			Browser:    pick(r, browsers),
			Location:   pick(r, locations),
		}
		ev.UserSession = sess
		ev.Dimensions["DeviceType"] = sess.DeviceType
		ev.Dimensions["Browser"] = sess.Browser
		ev.Measurements = []Measurement{
			{"SessionDuration", float64(between(r, 10, 3600)), UnitSeconds},
			{"PageViews", float64(between(r, 1, 50)), UnitCount},
			{"BounceRate", float64(between(r, 20, 80)), UnitPercent},
			{"LoadTime", float64(between(r, 100, 2000)), UnitMilliseconds},
		}

	case KindOrder:
		order := &Order{
			OrderID:  fmt.Sprintf("ord_%d_%d", ev.Timestamp.UnixMilli(), between(r, 1, 1000)),
			Items:    between(r, 1, 10),
			Total:    cents(between(r, 1000, 50000)),
			Currency: "USD",
		}
		ev.Order = order
		ev.Measurements = []Measurement{
			{"OrderValue", order.Total, UnitNone},
			{"ItemsPerOrder", float64(order.Items), UnitCount},
			{"OrderProcessingTime", float64(between(r, 500, 3000)), UnitMilliseconds},
			{"CartAbandonmentRate", float64(between(r, 20, 40)), UnitPercent},
		}

	case KindPayment:
		pay := &Payment{
			PaymentID:      fmt.Sprintf("pay_%d_%d", ev.Timestamp.UnixMilli(), between(r, 1, 1000)),
			Method:         pick(r, paymentMethods),
			Status:         pick(r, paymentStatuses),
			ProcessingTime: between(r, 100, 2000),
		}
		ev.Payment = pay
		ev.Dimensions["PaymentMethod"] = pay.Method
		ev.Dimensions["PaymentStatus"] = pay.Status
		ev.Measurements = []Measurement{
			{"PaymentProcessingTime", float64(pay.ProcessingTime), UnitMilliseconds},
			{"PaymentSuccess", flag(pay.Status == "success"), UnitCount},
			{"PaymentFailure", flag(pay.Status == "failed"), UnitCount},
			{"TransactionValue", cents(between(r, 1000, 50000)), UnitNone},
		}

	case KindInventory:
		inv := &Inventory{
			ProductID:    fmt.Sprintf("prod_%d", between(r, 1, 10000)),
			Quantity:     between(r, 0, 1000),
			Warehouse:    fmt.Sprintf("wh_%d", between(r, 1, 5)),
			ReorderPoint: between(r, 50, 200),
		}
		ev.Inventory = inv
		ev.Dimensions["Warehouse"] = inv.Warehouse
		ev.Measurements = []Measurement{
			{"StockLevel", float64(inv.Quantity), UnitCount},
			{"StockValue", float64(inv.Quantity * between(r, 10, 100)), UnitNone},
			{"OutOfStock", flag(inv.Quantity == 0), UnitCount},
			{"LowStock", flag(inv.Quantity < inv.ReorderPoint), UnitCount},
		}
	}

	// synthetic system metrics, not real telemetry
	ev.Measurements = append(ev.Measurements,
		Measurement{"CPUUtilization", float64(between(r, 20, 95)), UnitPercent},
		Measurement{"MemoryUtilization", float64(between(r, 30, 85)), UnitPercent},
		Measurement{"LatencyP95", float64(between(r, 50, 500)), UnitMilliseconds},
		Measurement{"ErrorRate", float64(between(r, 0, 5)), UnitPercent},
	)
	return ev
}

func cents(c int) float64 {
	return float64(c) / 100
}

func flag(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
