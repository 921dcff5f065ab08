package arbiter

import (
	"testing"

	"github.com/calcforge/calcforge/internal/config"
	"github.com/calcforge/calcforge/pkg/types"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want Decision
	}{
		{
			name: "enforce allow continues",
			in:   Input{Mode: config.ScanModeEnforce, CapabilityEnabled: true},
			want: Decision{Action: ActionContinue, ScanOutcome: types.ScanOutcomeAllow},
		},
		{
			name: "enforce deny blocks",
			in:   Input{Mode: config.ScanModeEnforce, CapabilityEnabled: true, PromptDenied: true},
			want: Decision{Action: ActionScanBlock, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "enforce deny blocks even armed with proceed",
			in:   Input{Mode: config.ScanModeEnforce, CapabilityEnabled: true, Armed: true, Proceed: true, PromptDenied: true},
			want: Decision{Action: ActionScanBlock, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "warn deny not armed blocks",
			in:   Input{Mode: config.ScanModeWarn, CapabilityEnabled: true, PromptDenied: true},
			want: Decision{Action: ActionScanBlock, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "warn deny armed without proceed warns",
			in:   Input{Mode: config.ScanModeWarn, CapabilityEnabled: true, Armed: true, PromptDenied: true},
			want: Decision{Action: ActionScanWarn, RequiresProceed: true, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "warn deny armed with proceed continues with override",
			in:   Input{Mode: config.ScanModeWarn, CapabilityEnabled: true, Armed: true, Proceed: true, PromptDenied: true},
			want: Decision{Action: ActionContinue, OverrideUsed: true, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "warn allow continues",
			in:   Input{Mode: config.ScanModeWarn, CapabilityEnabled: true},
			want: Decision{Action: ActionContinue, ScanOutcome: types.ScanOutcomeAllow},
		},
		{
			name: "off armed without proceed requires proceed",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true, Armed: true},
			want: Decision{Action: ActionScanSkipped, RequiresProceed: true, ScanOutcome: types.ScanOutcomeSkipped},
		},
		{
			name: "off armed with proceed skips scanning",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true, Armed: true, Proceed: true},
			want: Decision{Action: ActionContinue, OverrideUsed: true, ScanOutcome: types.ScanOutcomeSkipped},
		},
		{
			name: "off not armed behaves like classifier path allow",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true},
			want: Decision{Action: ActionContinue, ScanOutcome: types.ScanOutcomeAllow},
		},
		{
			name: "off not armed deny blocks",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true, PromptDenied: true},
			want: Decision{Action: ActionScanBlock, ScanOutcome: types.ScanOutcomeDeny},
		},
		{
			name: "unknown mode treated as enforce",
			in:   Input{Mode: "yolo", CapabilityEnabled: true, Armed: true, Proceed: true, PromptDenied: true},
			want: Decision{Action: ActionScanBlock, ScanOutcome: types.ScanOutcomeDeny},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.in)
			if got != tt.want {
				t.Errorf("Evaluate(%+v) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

// Without the environment capability, every combination of mode, armed and
// proceed must behave exactly like enforce with no override flags. Enforce
// must be provably unreachable from per-request input alone.
func TestEvaluate_NoCapabilityForcesEnforce(t *testing.T) {
	modes := []string{config.ScanModeEnforce, config.ScanModeWarn, config.ScanModeOff, "garbage"}
	bools := []bool{false, true}

	for _, mode := range modes {
		for _, armed := range bools {
			for _, proceed := range bools {
				for _, denied := range bools {
					in := Input{
						Mode:              mode,
						CapabilityEnabled: false,
						Armed:             armed,
						Proceed:           proceed,
						PromptDenied:      denied,
					}
					baseline := Evaluate(Input{
						Mode:              config.ScanModeEnforce,
						CapabilityEnabled: true,
						PromptDenied:      denied,
					})

					got := Evaluate(in)
					if got != baseline {
						t.Errorf("Evaluate(%+v) = %+v, want enforce baseline %+v", in, got, baseline)
					}
					if got.OverrideUsed {
						t.Errorf("Evaluate(%+v) used an override without capability", in)
					}
				}
			}
		}
	}
}

func TestEvaluate_EnforceDenyAlwaysBlocks(t *testing.T) {
	bools := []bool{false, true}
	for _, armed := range bools {
		for _, proceed := range bools {
			in := Input{
				Mode:              config.ScanModeEnforce,
				CapabilityEnabled: true,
				Armed:             armed,
				Proceed:           proceed,
				PromptDenied:      true,
			}
			if got := Evaluate(in); got.Action != ActionScanBlock {
				t.Errorf("Evaluate(%+v).Action = %v, want %v", in, got.Action, ActionScanBlock)
			}
		}
	}
}

func TestClassifierRuns(t *testing.T) {
	tests := []struct {
		name string
		in   Input
		want bool
	}{
		{
			name: "off armed with capability skips classifier",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true, Armed: true},
			want: false,
		},
		{
			name: "off armed without capability still runs classifier",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: false, Armed: true},
			want: true,
		},
		{
			name: "off not armed runs classifier",
			in:   Input{Mode: config.ScanModeOff, CapabilityEnabled: true},
			want: true,
		},
		{
			name: "enforce always runs classifier",
			in:   Input{Mode: config.ScanModeEnforce, CapabilityEnabled: true, Armed: true},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifierRuns(tt.in); got != tt.want {
				t.Errorf("ClassifierRuns(%+v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
