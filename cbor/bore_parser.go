package cbor

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"
)

// Expressions are "->" separated steps:
//
//	u:0x02        unsigned map key
//	i:-1          signed map key
//	t:gpio        text map key
//	0             array index
//
// e.g. "u:0x04->t:rk" or "u:0x0A->0->t:alg".

func isNumber(s string) bool {
	if len(s) == 0 {
		return false
	}
	for _, v := range s {
		if !unicode.IsNumber(v) {
			return false
		}
	}
	return true
}

type boreStep struct {
	RequiredType reflect.Kind
	Expr         string
	ExprKind     string
	ExprValue    any
}

func parseInteger(name string) (int64, error) {
	neg := strings.HasPrefix(name, "-")
	digits := strings.TrimPrefix(name, "-")
	base := 10
	if strings.HasPrefix(digits, "0x") {
		base = 16
		digits = strings.TrimPrefix(digits, "0x")
	}
	r, err := strconv.ParseInt(digits, base, 64)
	if err != nil {
		return 0, fmt.Errorf("failed parsing %s: %w", name, err)
	}
	if neg {
		r = -r
	}
	return r, nil
}

func parseBoreExpr(expr string) ([]boreStep, error) {
	steps := strings.Split(expr, "->")
	for i := range steps {
		steps[i] = strings.TrimSpace(steps[i])
	}

	var result []boreStep
	for _, step := range steps {
		if isNumber(step) {
			v, _ := strconv.ParseInt(step, 10, 64)
			result = append(result, boreStep{
				Expr:         step,
				RequiredType: reflect.Array,
				ExprValue:    int(v),
			})
			continue
		}

		comps := strings.SplitN(step, ":", 2)
		if len(comps) != 2 {
			return nil, fmt.Errorf("invalid bore step %q", step)
		}
		kind, name := comps[0], comps[1]
		switch kind {
		case "u":
			v, err := parseInteger(name)
			if err != nil {
				return nil, err
			}
			if v < 0 {
				return nil, fmt.Errorf("unsigned key %s is negative", name)
			}
			result = append(result, boreStep{
				RequiredType: reflect.Map,
				Expr:         name,
				ExprKind:     kind,
				ExprValue:    uint64(v),
			})
		case "i":
			v, err := parseInteger(name)
			if err != nil {
				return nil, err
			}
			result = append(result, boreStep{
				RequiredType: reflect.Map,
				Expr:         name,
				ExprKind:     kind,
				ExprValue:    v,
			})
		case "t":
			result = append(result, boreStep{
				RequiredType: reflect.Map,
				Expr:         name,
				ExprKind:     kind,
				ExprValue:    name,
			})
		default:
			return nil, fmt.Errorf("unknown bore step kind %q", kind)
		}
	}

	return result, nil
}
