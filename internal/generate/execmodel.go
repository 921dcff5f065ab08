package generate

import (
	"strings"

	"github.com/calcforge/calcforge/internal/manifest"
)

// formKeywords name calculator domains that always get the form execution
// model: multi-field inputs with a compute button, no expression entry.
// Checked before the expression list so a prompt like "simple CNC feed rate
// calculator" still forces form.
var formKeywords = []string{
	"cnc",
	"feed rate",
	"feedrate",
	"machining",
	"tax",
	"loan",
	"mortgage",
	"amortization",
	"interest",
	"bmi",
	"body mass",
	"calorie",
	"payroll",
	"paycheck",
	"tip",
	"discount",
	"currency",
	"converter",
	"conversion",
	"ohm",
	"resistor",
	"concrete",
	"paint",
	"fuel",
	"mileage",
	"pregnancy",
	"due date",
	"grade",
	"gpa",
}

// expressionKeywords name prompts asking for a freeform calculator keypad
var expressionKeywords = []string{
	"standard",
	"scientific",
	"basic",
	"simple",
	"arithmetic",
	"expression",
	"four function",
	"keypad",
}

// ExecutionModelHint derives the execution model deterministically from the
// prompt text: form for the fixed domain keyword set, expression for the
// disjoint keypad set, form otherwise.
func ExecutionModelHint(prompt string) string {
	p := strings.ToLower(prompt)

	for _, kw := range formKeywords {
		if strings.Contains(p, kw) {
			return manifest.ExecutionModelForm
		}
	}

	for _, kw := range expressionKeywords {
		if strings.Contains(p, kw) {
			return manifest.ExecutionModelExpression
		}
	}

	return manifest.ExecutionModelForm
}
