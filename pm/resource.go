package pm

import (
	"sync"

	"github.com/hipc-systems/hipc-core/domain"
)

// ResourcePool tracks the kernel-enforced split of a fixed memory budget
// between the System and Application pools. A "boost" (requested by the
// system-memory coordinator or the MITM coordinator) shrinks Application
// and grows System by the same amount; Unwind reverses one previously
// applied boost. system_pool + application_pool <= total must hold at
// every intermediate step of either operation, which is why growing and
// shrinking apply their two pool writes in opposite order.
type ResourcePool struct {
	mu          sync.Mutex
	total       uint64
	system      uint64
	application uint64

	// available is (re)signaled every time Unwind frees application
	// memory, standing in for the per-resource-limit "resource available"
	// kernel signal a launch operation waits on before retrying.
	available chan struct{}
}

// NewResourcePool creates a pool with the given initial split; system +
// application must not exceed total.
func NewResourcePool(total, system, application uint64) (*ResourcePool, error) {
	if system+application > total {
		return nil, domain.NewError(domain.KindPreconditionViolation,
			"pm: initial split %d+%d exceeds total %d", system, application, total)
	}
	return &ResourcePool{total: total, system: system, application: application, available: make(chan struct{}, 1)}, nil
}

// Reserve applies a boost of amount: Application shrinks by amount first,
// then System grows by amount, so the running sum never exceeds total.
// It fails without mutating anything if Application cannot absorb the
// full reduction.
func (p *ResourcePool) Reserve(amount uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if amount > p.application {
		return domain.NewError(domain.KindOutOfMemory,
			"pm: cannot reserve %d, application pool only has %d", amount, p.application)
	}
	p.application -= amount
	p.system += amount
	return nil
}

// Unwind reverses a boost of amount: System shrinks by amount first,
// then Application grows by amount, again keeping the running sum under
// total at every step. It signals available afterward.
func (p *ResourcePool) Unwind(amount uint64) error {
	p.mu.Lock()
	if amount > p.system {
		p.mu.Unlock()
		return domain.NewError(domain.KindPreconditionViolation,
			"pm: cannot unwind %d, system pool only has %d", amount, p.system)
	}
	p.system -= amount
	p.application += amount
	p.mu.Unlock()

	select {
	case p.available <- struct{}{}:
	default:
	}
	return nil
}

// Available fires whenever Unwind has just freed application memory.
func (p *ResourcePool) Available() <-chan struct{} { return p.available }

func (p *ResourcePool) Snapshot() (total, system, application uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total, p.system, p.application
}

// LaunchBoost is the combined system-memory-boost + MITM-memory-boost
// outstanding reduction a launch operation holds against a pool. It
// records the two contributions separately, but they are only released
// together, by UnwindAll.
type LaunchBoost struct {
	pool       *ResourcePool
	systemAmt  uint64
	mitmAmt    uint64
}

// NewLaunchBoost reserves systemAmt+mitmAmt against pool in one Reserve
// call (the two boosts are requested together at launch time) and
// returns a handle whose UnwindAll gives both back.
func NewLaunchBoost(pool *ResourcePool, systemAmt, mitmAmt uint64) (*LaunchBoost, error) {
	if err := pool.Reserve(systemAmt + mitmAmt); err != nil {
		return nil, err
	}
	return &LaunchBoost{pool: pool, systemAmt: systemAmt, mitmAmt: mitmAmt}, nil
}

// UnwindAll releases both contributions; it is what every launch failure
// path calls to atomically give the memory back.
func (b *LaunchBoost) UnwindAll() error {
	return b.pool.Unwind(b.systemAmt + b.mitmAmt)
}
