package api

import (
	"math"
	"strconv"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"
)

// scalarSet holds the custom scalars of one schema. graphql-go requires type
// names to be unique per schema, so each schema builds its own set.
type scalarSet struct {
	nonNegativeInt *graphql.Scalar
	positiveInt    *graphql.Scalar
	long           *graphql.Scalar
	cell           *graphql.Scalar
}

func newScalarSet() scalarSet {
	return scalarSet{
		nonNegativeInt: boundedInt("NonNegativeInt", "An integer greater than or equal to zero.", 0),
		positiveInt:    boundedInt("PositiveInt", "An integer greater than or equal to one.", 1),
		long:           longScalar(),
		cell:           cellScalar(),
	}
}

func boundedInt(name, description string, minValue int) *graphql.Scalar {
	coerce := func(value interface{}) interface{} {
		if parsed, ok := coerceInt(value); ok && parsed >= minValue {
			return parsed
		}
		return nil
	}
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        name,
		Description: description,
		Serialize:   coerce,
		ParseValue:  coerce,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			intValue, ok := valueAST.(*ast.IntValue)
			if !ok {
				return nil
			}
			parsed, err := strconv.Atoi(intValue.Value)
			if err != nil || parsed < minValue {
				return nil
			}
			return parsed
		},
	})
}

// longScalar serializes 64-bit counts as JSON numbers.
func longScalar() *graphql.Scalar {
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Long",
		Description: "A 64-bit integer serialized as a JSON number.",
		Serialize: func(value interface{}) interface{} {
			switch v := value.(type) {
			case int64:
				return v
			case int:
				return int64(v)
			default:
				return nil
			}
		},
		ParseValue: func(value interface{}) interface{} {
			if parsed, ok := coerceInt(value); ok {
				return int64(parsed)
			}
			return nil
		},
		ParseLiteral: func(valueAST ast.Value) interface{} {
			if intValue, ok := valueAST.(*ast.IntValue); ok {
				if parsed, err := strconv.ParseInt(intValue.Value, 10, 64); err == nil {
					return parsed
				}
			}
			return nil
		},
	})
}

// cellScalar passes preview values through unchanged. Values are already
// normalized by dbexec; non UTF-8 bytes encode as base64 strings.
func cellScalar() *graphql.Scalar {
	passthrough := func(value interface{}) interface{} { return value }
	return graphql.NewScalar(graphql.ScalarConfig{
		Name:        "Cell",
		Description: "A single preview value: string, number, boolean or null.",
		Serialize:   passthrough,
		ParseValue:  passthrough,
		ParseLiteral: func(valueAST ast.Value) interface{} {
			return valueAST.GetValue()
		},
	})
}

func coerceInt(value interface{}) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		if v > math.MaxInt || v < math.MinInt {
			return 0, false
		}
		return int(v), true
	case float64:
		if v != math.Trunc(v) || v > math.MaxInt || v < math.MinInt {
			return 0, false
		}
		return int(v), true
	case string:
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
