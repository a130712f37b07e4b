// Package service sequences the three-stage pipeline and assembles run
// results. It owns all ledger writes; stage execution itself is side-effect
// free.
package service

import (
	"context"
	"sync"

	"github.com/finpilot/orchestrator/internal/config"
	"github.com/finpilot/orchestrator/internal/ledger"
	"github.com/finpilot/orchestrator/internal/stage"
	"github.com/finpilot/orchestrator/internal/store"
)

type Service struct {
	store      store.Store
	memory     *ledger.MemoryStore
	compliance *ledger.ComplianceLedger
	payments   *ledger.PaymentLedger
	profiles   *ledger.ProfileRegistry
	executor   *stage.Executor
	config     *config.Config

	// cancels maps run IDs to the cancel handles of in-flight kickoffs so a
	// run can be cancelled at the next inter-stage checkpoint.
	cancels sync.Map
}

// cancelHandle pairs an in-flight run's cancel func with the operator's
// stated reason, recorded when the cancellation lands at a checkpoint.
type cancelHandle struct {
	cancel context.CancelFunc

	mu     sync.Mutex
	reason string
}

func (h *cancelHandle) trip(reason string) {
	h.mu.Lock()
	if h.reason == "" {
		h.reason = reason
	}
	h.mu.Unlock()
	h.cancel()
}

func (h *cancelHandle) tripReason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.reason == "" {
		return "cancel requested"
	}
	return h.reason
}

func New(st store.Store, memory *ledger.MemoryStore, compliance *ledger.ComplianceLedger,
	payments *ledger.PaymentLedger, profiles *ledger.ProfileRegistry,
	executor *stage.Executor, cfg *config.Config) *Service {
	return &Service{
		store:      st,
		memory:     memory,
		compliance: compliance,
		payments:   payments,
		profiles:   profiles,
		executor:   executor,
		config:     cfg,
	}
}

// Memory exposes the memory ledger for the read surface.
func (s *Service) Memory() *ledger.MemoryStore { return s.memory }

// Compliance exposes the compliance ledger for the read surface.
func (s *Service) Compliance() *ledger.ComplianceLedger { return s.compliance }

// Payments exposes the payment ledger for the read surface.
func (s *Service) Payments() *ledger.PaymentLedger { return s.payments }
