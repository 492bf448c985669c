package importer

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDecision is returned for an unknown decision or cancel policy.
var ErrInvalidDecision = errors.New("invalid decision")

// Decision is the user's answer to a pending import.
type Decision string

const (
	// DecisionConfirm writes new records and updates duplicates in place.
	DecisionConfirm Decision = "confirm"
	// DecisionDeny writes new records only.
	DecisionDeny Decision = "deny"
	// DecisionCancel dismisses the prompt; see CancelPolicy.
	DecisionCancel Decision = "cancel"
)

// ParseDecision parses a decision name, case-insensitively.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(strings.ToLower(strings.TrimSpace(s))); d {
	case DecisionConfirm, DecisionDeny, DecisionCancel:
		return d, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidDecision, s)
}

// CancelPolicy decides what a cancelled prompt commits.
type CancelPolicy string

const (
	// CancelAsDeny commits the new records, like deny.
	CancelAsDeny CancelPolicy = "deny"
	// CancelDiscards commits nothing.
	CancelDiscards CancelPolicy = "discard"
)

// ParseCancelPolicy parses a policy name. The empty string means CancelAsDeny.
func ParseCancelPolicy(s string) (CancelPolicy, error) {
	switch p := CancelPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CancelAsDeny, nil
	case CancelAsDeny, CancelDiscards:
		return p, nil
	}
	return "", fmt.Errorf("%w: cancel policy %q", ErrInvalidDecision, s)
}

// Resolve returns the records to create and the duplicates to update for d.
func (c *Classification) Resolve(d Decision, policy CancelPolicy) ([]*MappedRecord, []*Duplicate) {
	switch d {
	case DecisionConfirm:
		return c.NewRecords, c.Duplicates
	case DecisionCancel:
		if policy == CancelDiscards {
			return nil, nil
		}
	}
	return c.NewRecords, nil
}
