// Package snapshotdefaults implements the CreateDiscoverySnapshot defaults
// processor of spec.md §4.7(c) step 6, using original_source/'s
// llm_block_validator.py constants (Application, Timezone, a 30-day window
// ending "now" formatted "M/D/YYYY 11:59:59 PM").
package snapshotdefaults

import (
	"fmt"
	"time"

	"github.com/saketkr/reasoning-engine/internal/workflow"
)

// ActionCode is the block action this processor applies to.
const ActionCode = "CreateDiscoverySnapshot"

const (
	defaultApplication = "OracleFusion"
	defaultTimezone    = "UTC"
)

// formatSnapshotTimestamp mirrors Python's "%-m/%-d/%Y %I:%M:%S %p" for a value like
// "7/30/2026 11:59:59 PM" — Go has no direct no-zero-pad verb, so the layout
// is built with explicit, unpadded month/day via fmt rather than time.Format.
func formatSnapshotTimestamp(t time.Time) string {
	hour := t.Hour() % 12
	if hour == 0 {
		hour = 12
	}
	meridiem := "AM"
	if t.Hour() >= 12 {
		meridiem = "PM"
	}
	return fmt.Sprintf("%d/%d/%d %d:%02d:%02d %s", t.Month(), t.Day(), t.Year(), hour, t.Minute(), t.Second(), meridiem)
}

// Apply mutates b in place when its ActionCode is CreateDiscoverySnapshot:
// sets Application=OracleFusion, Timezone=UTC, "should use client utility"
// false, and fills empty Start Date/End Date with a 30-day window ending at
// now.
func Apply(b *workflow.Block, now time.Time) {
	if b.ActionCode != ActionCode {
		return
	}

	setStatic(b, "Application", defaultApplication)
	setStatic(b, "Timezone", defaultTimezone)
	setStatic(b, "Should Use Client Utility", "False")

	endDate := now
	startDate := now.AddDate(0, 0, -30)
	ensureStatic(b, "Start Date", formatSnapshotTimestamp(startDate))
	ensureStatic(b, "End Date", formatSnapshotTimestamp(endDate))
}

func setStatic(b *workflow.Block, name, value string) {
	for i := range b.Inputs {
		if b.Inputs[i].Name == name {
			b.Inputs[i].StaticValue = &value
			b.Inputs[i].ReferencedOutputVariableName = nil
			return
		}
	}
	b.Inputs = append(b.Inputs, workflow.Input{Name: name, StaticValue: &value})
}

// ensureStatic sets the input's static value only if it is currently unfilled
// (no static value and no reference), per spec.md's "fill empty" wording.
func ensureStatic(b *workflow.Block, name, value string) {
	for i := range b.Inputs {
		if b.Inputs[i].Name == name {
			if b.Inputs[i].StaticValue == nil && b.Inputs[i].ReferencedOutputVariableName == nil {
				b.Inputs[i].StaticValue = &value
			}
			return
		}
	}
	b.Inputs = append(b.Inputs, workflow.Input{Name: name, StaticValue: &value})
}
