package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrBudgetExhausted is returned when a call is rejected because the
// provider's credit balance cannot cover it. Like ErrCircuitOpen, it
// means "try again later", not "this input is broken".
var ErrBudgetExhausted = eris.New("provider budget exhausted")

// BudgetConfig controls credit tracking for a metered provider.
type BudgetConfig struct {
	// MaxCredits is the balance cap. Default: 1000.
	MaxCredits float64

	// RefillAmount is the number of credits added per refill cycle.
	// Default: MaxCredits (full refill).
	RefillAmount float64

	// RefillInterval is the fixed refill cycle length. Default: 1h.
	RefillInterval time.Duration

	// EmergencyReserve flags the balance as low when spending would dip
	// below this threshold, without blocking the spend.
	EmergencyReserve float64
}

// DefaultBudgetConfig returns sensible defaults.
func DefaultBudgetConfig() BudgetConfig {
	return BudgetConfig{
		MaxCredits:     1000,
		RefillInterval: time.Hour,
	}
}

// BudgetManager tracks a refillable credit balance for one provider.
// Refill is lazy: elapsed whole cycles since the last check are credited
// before any comparison. Debits happen only on call success, so a failed
// call never consumes credits.
type BudgetManager struct {
	cfg        BudgetConfig
	mu         sync.Mutex
	balance    float64
	lastRefill time.Time

	nowFunc func() time.Time
}

// NewBudgetManager creates a budget manager starting at the full balance.
func NewBudgetManager(cfg BudgetConfig) *BudgetManager {
	if cfg.MaxCredits <= 0 {
		cfg.MaxCredits = 1000
	}
	if cfg.RefillAmount <= 0 {
		cfg.RefillAmount = cfg.MaxCredits
	}
	if cfg.RefillInterval <= 0 {
		cfg.RefillInterval = time.Hour
	}
	bm := &BudgetManager{
		cfg:     cfg,
		balance: cfg.MaxCredits,
		nowFunc: time.Now,
	}
	bm.lastRefill = bm.nowFunc()
	return bm
}

// Check refills lazily, then reports whether n credits are available.
// When they are not, retryAt estimates when enough credits will exist.
func (bm *BudgetManager) Check(n float64) (ok bool, retryAt time.Time) {
	bm.mu.Lock()
	defer bm.mu.Unlock()

	bm.refillLocked()

	if bm.balance >= n {
		return true, time.Time{}
	}

	deficit := n - bm.balance
	cycles := int64(deficit / bm.cfg.RefillAmount)
	if float64(cycles)*bm.cfg.RefillAmount < deficit {
		cycles++
	}
	return false, bm.lastRefill.Add(time.Duration(cycles) * bm.cfg.RefillInterval)
}

// Debit consumes n credits after a successful call. Consumption is
// atomic per logical call: the scheduler only debits once the call has
// succeeded.
func (bm *BudgetManager) Debit(n float64) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.refillLocked()
	bm.balance -= n
	if bm.balance < 0 {
		bm.balance = 0
	}
}

// Balance returns the current credit balance after lazy refill.
func (bm *BudgetManager) Balance() float64 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.refillLocked()
	return bm.balance
}

// LowBalance reports whether the balance has dipped to the emergency
// reserve, signalling that further spending endangers baseline
// availability.
func (bm *BudgetManager) LowBalance() bool {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.refillLocked()
	return bm.balance <= bm.cfg.EmergencyReserve
}

// refillLocked credits elapsed whole refill cycles up to the cap.
// Caller must hold bm.mu.
func (bm *BudgetManager) refillLocked() {
	now := bm.nowFunc()
	elapsed := now.Sub(bm.lastRefill)
	if elapsed < bm.cfg.RefillInterval {
		return
	}
	cycles := int64(elapsed / bm.cfg.RefillInterval)
	bm.balance += float64(cycles) * bm.cfg.RefillAmount
	if bm.balance > bm.cfg.MaxCredits {
		bm.balance = bm.cfg.MaxCredits
	}
	bm.lastRefill = bm.lastRefill.Add(time.Duration(cycles) * bm.cfg.RefillInterval)
}
