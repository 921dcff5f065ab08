// Package arbiter implements the scan-policy state machine that gates every
// pipeline run. It is pure: no IO, no clock, no logger.
package arbiter

import (
	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/pkg/types"
)

// Action is the arbiter's verdict for a run
type Action string

const (
	// ActionContinue lets the run proceed to generation
	ActionContinue Action = "continue"
	// ActionScanBlock is a terminal refusal
	ActionScanBlock Action = "scan_block"
	// ActionScanWarn returns the denial details and requires the caller to
	// resubmit with proceed=true
	ActionScanWarn Action = "scan_warn"
	// ActionScanSkipped means scanning was skipped entirely and the caller
	// must resubmit with proceed=true to continue
	ActionScanSkipped Action = "scan_skipped"
)

// Input carries everything the arbiter is allowed to see. Armed and Proceed
// come from the request; CapabilityEnabled comes from the environment and is
// the trust boundary: without it the request flags are never honored.
type Input struct {
	Mode              string
	CapabilityEnabled bool
	Armed             bool
	Proceed           bool
	PromptDenied      bool
}

// Decision is the arbiter's output
type Decision struct {
	Action          Action
	RequiresProceed bool
	OverrideUsed    bool
	ScanOutcome     types.ScanOutcome
}

// EffectiveMode resolves the runtime scan mode. When the red-team capability
// is unavailable the mode is always enforce, no matter what was configured or
// what the request claims.
func EffectiveMode(mode string, capabilityEnabled bool) string {
	if !capabilityEnabled {
		return config.ScanModeEnforce
	}
	switch mode {
	case config.ScanModeEnforce, config.ScanModeWarn, config.ScanModeOff:
		return mode
	default:
		return config.ScanModeEnforce
	}
}

// ClassifierRuns reports whether the prompt classifier runs at all for this
// input. It is false only on the off+armed shortcut: "off" means skip
// scanning, not "scan then ignore".
func ClassifierRuns(in Input) bool {
	return !(EffectiveMode(in.Mode, in.CapabilityEnabled) == config.ScanModeOff && in.Armed)
}

// Evaluate applies the arbiter rules in priority order. A request claiming an
// override without genuine capability is treated identically to no override
// at all: silently downgraded to enforce, never an error.
func Evaluate(in Input) Decision {
	mode := EffectiveMode(in.Mode, in.CapabilityEnabled)
	armed := in.Armed && in.CapabilityEnabled

	if mode == config.ScanModeOff && armed {
		if !in.Proceed {
			return Decision{
				Action:          ActionScanSkipped,
				RequiresProceed: true,
				ScanOutcome:     types.ScanOutcomeSkipped,
			}
		}
		return Decision{
			Action:       ActionContinue,
			OverrideUsed: true,
			ScanOutcome:  types.ScanOutcomeSkipped,
		}
	}

	if !in.PromptDenied {
		return Decision{
			Action:      ActionContinue,
			ScanOutcome: types.ScanOutcomeAllow,
		}
	}

	if mode == config.ScanModeWarn && armed {
		if !in.Proceed {
			return Decision{
				Action:          ActionScanWarn,
				RequiresProceed: true,
				ScanOutcome:     types.ScanOutcomeDeny,
			}
		}
		return Decision{
			Action:       ActionContinue,
			OverrideUsed: true,
			ScanOutcome:  types.ScanOutcomeDeny,
		}
	}

	// Enforce mode unconditionally, warn mode when not armed, off mode when
	// not armed: a denial blocks.
	return Decision{
		Action:      ActionScanBlock,
		ScanOutcome: types.ScanOutcomeDeny,
	}
}
