package domain

import (
	"strings"

	"github.com/google/uuid"
)

// Identifier prefixes are part of the external contract and never change.
const (
	RunIDPrefix     = "run_"
	MemoryIDPrefix  = "mem_"
	EventIDPrefix   = "evt_"
	RequestIDPrefix = "x402_req_"
)

func newHex() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:16]
}

// NewRunID generates a run identifier.
func NewRunID() string { return RunIDPrefix + newHex() }

// NewMemoryID generates a memory entry identifier.
func NewMemoryID() string { return MemoryIDPrefix + newHex() }

// NewEventID generates a compliance event identifier.
func NewEventID() string { return EventIDPrefix + newHex() }

// NewRequestID generates a payment request identifier.
func NewRequestID() string { return RequestIDPrefix + newHex() }
