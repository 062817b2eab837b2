package validation

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/koicert/registry/common/models"
	"github.com/koicert/registry/common/sentinel"
)

// AttributeValidator checks koi attributes before they are submitted to the ledger
// Built-in checks always run; configured CEL rules run after them.
type AttributeValidator struct {
	rules []rule
}

type rule struct {
	expr    string
	program cel.Program
}

// NewAttributeValidator compiles every rule up front
// Each rule is a CEL expression over variety, breeder, gender, age, condition
// (strings) and size_cm (int) that must evaluate to true.
func NewAttributeValidator(exprs []string) (*AttributeValidator, error) {
	env, err := cel.NewEnv(
		cel.Variable("variety", cel.StringType),
		cel.Variable("breeder", cel.StringType),
		cel.Variable("gender", cel.StringType),
		cel.Variable("age", cel.StringType),
		cel.Variable("condition", cel.StringType),
		cel.Variable("size_cm", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	v := &AttributeValidator{}
	for _, expr := range exprs {
		expr = strings.TrimSpace(expr)
		if expr == "" {
			continue
		}

		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("CEL compilation error in %q: %w", expr, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q must return bool, returns %s", expr, ast.OutputType())
		}

		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program: %w", err)
		}
		v.rules = append(v.rules, rule{expr: expr, program: prg})
	}

	return v, nil
}

// Validate returns an error wrapping sentinel.ErrInvalidInput on the first failed check
func (v *AttributeValidator) Validate(attrs models.Attributes) error {
	if attrs.SizeCm < 0 {
		return fmt.Errorf("%w: size_cm must be >= 0, got %d", sentinel.ErrInvalidInput, attrs.SizeCm)
	}

	if len(v.rules) == 0 {
		return nil
	}

	activation := map[string]interface{}{
		"variety":   attrs.Variety,
		"breeder":   attrs.BreederName,
		"gender":    attrs.Gender,
		"age":       attrs.AgeLabel,
		"condition": attrs.ConditionNote,
		"size_cm":   attrs.SizeCm,
	}

	for _, r := range v.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			return fmt.Errorf("%w: rule %q: %v", sentinel.ErrInvalidInput, r.expr, err)
		}

		ok, isBool := out.Value().(bool)
		if !isBool {
			return fmt.Errorf("%w: rule %q did not return boolean", sentinel.ErrInvalidInput, r.expr)
		}
		if !ok {
			return fmt.Errorf("%w: attributes violate rule %q", sentinel.ErrInvalidInput, r.expr)
		}
	}

	return nil
}

// RuleCount returns the number of configured rules
func (v *AttributeValidator) RuleCount() int {
	return len(v.rules)
}
