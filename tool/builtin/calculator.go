package builtin

import (
	"context"
	"fmt"
	"math"

	"github.com/hupe1980/agentrun/tool"
)

// CalculatorArgs are the arguments accepted by the calculator tool.
type CalculatorArgs struct {
	Operation string   `json:"operation" description:"Operation to perform" enum:"add,subtract,multiply,divide,power,sqrt"`
	A         float64  `json:"a" description:"First operand"`
	B         *float64 `json:"b,omitempty" description:"Second operand (not used for sqrt)"`
}

// NewCalculator returns a tool performing basic arithmetic.
func NewCalculator() *tool.FunctionTool {
	return tool.NewTypedTool(CalculatorID,
		"Perform basic math operations (add, subtract, multiply, divide, power, sqrt)",
		func(_ context.Context, args CalculatorArgs) (any, error) {
			return calculate(args)
		})
}

func calculate(args CalculatorArgs) (float64, error) {
	a := args.A
	if args.Operation == "sqrt" {
		if a < 0 {
			return 0, fmt.Errorf("cannot take the square root of %v", a)
		}
		return math.Sqrt(a), nil
	}

	if args.B == nil {
		return 0, tool.NewToolError(CalculatorID, fmt.Sprintf("operation %q requires b", args.Operation), tool.CodeValidation)
	}
	b := *args.B

	switch args.Operation {
	case "add":
		return a + b, nil
	case "subtract":
		return a - b, nil
	case "multiply":
		return a * b, nil
	case "divide":
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	case "power":
		return math.Pow(a, b), nil
	}
	return 0, tool.NewToolError(CalculatorID, fmt.Sprintf("unsupported operation %q", args.Operation), tool.CodeValidation)
}
