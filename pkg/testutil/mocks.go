// Package testutil provides a simulated exchange venue and mock collaborators
// for tests.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/holiman/uint256"
	"github.com/nspcc-dev/neo-go/pkg/util"

	"github.com/R3E-Network/spendsave/internal/kernel"
)

// ErrInjected is returned by mocks armed to fail.
var ErrInjected = errors.New("injected failure")

// FailingLedger wraps a ledger module and fails mints once armed.
type FailingLedger struct {
	kernel.LedgerModule

	mu       sync.Mutex
	failMint bool
	mints    int
}

// NewFailingLedger wraps inner.
func NewFailingLedger(inner kernel.LedgerModule) *FailingLedger {
	return &FailingLedger{LedgerModule: inner}
}

// FailMints makes every following Mint return ErrInjected.
func (l *FailingLedger) FailMints(fail bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failMint = fail
}

// Mints returns the number of Mint calls that reached the inner ledger.
func (l *FailingLedger) Mints() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mints
}

// Mint fails with ErrInjected when armed, otherwise delegates.
func (l *FailingLedger) Mint(ctx context.Context, caller, owner util.Uint160, id uint64, amount *uint256.Int) error {
	l.mu.Lock()
	fail := l.failMint
	if !fail {
		l.mints++
	}
	l.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return l.LedgerModule.Mint(ctx, caller, owner, id, amount)
}

// MockPayout records withdrawals handed to custody.
type MockPayout struct {
	mu    sync.Mutex
	paid  map[util.Uint160]*uint256.Int
	Fail  bool
	calls int
}

// NewMockPayout creates an empty payout sink.
func NewMockPayout() *MockPayout {
	return &MockPayout{paid: make(map[util.Uint160]*uint256.Int)}
}

// Pay records amount for user.
func (p *MockPayout) Pay(_ context.Context, user, _ util.Uint160, amount *uint256.Int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.Fail {
		return ErrInjected
	}
	total, ok := p.paid[user]
	if !ok {
		total = new(uint256.Int)
		p.paid[user] = total
	}
	total.Add(total, amount)
	return nil
}

// Paid returns the total paid to user.
func (p *MockPayout) Paid(user util.Uint160) *uint256.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if total, ok := p.paid[user]; ok {
		return new(uint256.Int).Set(total)
	}
	return new(uint256.Int)
}

// Calls returns how many times Pay ran.
func (p *MockPayout) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
