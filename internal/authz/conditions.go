package authz

import "strings"

// Conditions son condiciones ABAC sobre atributos del contexto. El valor de
// cada atributo es un escalar (igualdad directa) o un mapa operador→valor
// esperado. Varias condiciones componen con AND implícito.
type Conditions map[string]any

// Operadores ABAC soportados.
const (
	OpEq         = "eq"
	OpNe         = "ne"
	OpGt         = "gt"
	OpGte        = "gte"
	OpLt         = "lt"
	OpLte        = "lte"
	OpIn         = "in"
	OpNin        = "nin"
	OpContains   = "contains"
	OpStartsWith = "startsWith"
	OpEndsWith   = "endsWith"
)

// CheckConditions evalúa condiciones ABAC contra el contexto mergeado:
// atributos del usuario, luego extra, y por último userId/email (que no se
// pueden pisar). Un atributo ausente en el contexto deniega; condiciones
// vacías permiten.
func CheckConditions(conds Conditions, uc *UserContext, extra map[string]any) bool {
	if len(conds) == 0 {
		return true
	}

	full := make(map[string]any, len(uc.Attributes)+len(extra)+2)
	for k, v := range uc.Attributes {
		full[k] = v
	}
	for k, v := range extra {
		full[k] = v
	}
	full["userId"] = uc.UserID
	full["email"] = uc.Email

	for attr, cond := range conds {
		actual, ok := full[attr]
		if !ok {
			return false // atributo ausente: se falla cerrado
		}

		ops, isOps := cond.(map[string]any)
		if !isOps {
			// Escalar: igualdad directa.
			if !equalValues(actual, cond) {
				return false
			}
			continue
		}

		for op, expected := range ops {
			if !evaluateOperator(op, actual, expected) {
				return false
			}
		}
	}
	return true
}

func evaluateOperator(op string, actual, expected any) bool {
	switch op {
	case OpEq:
		return equalValues(actual, expected)
	case OpNe:
		return !equalValues(actual, expected)
	case OpGt:
		cmp, ok := compareValues(actual, expected)
		return ok && cmp > 0
	case OpGte:
		cmp, ok := compareValues(actual, expected)
		return ok && cmp >= 0
	case OpLt:
		cmp, ok := compareValues(actual, expected)
		return ok && cmp < 0
	case OpLte:
		cmp, ok := compareValues(actual, expected)
		return ok && cmp <= 0
	case OpIn:
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if equalValues(actual, v) {
				return true
			}
		}
		return false
	case OpNin:
		list, ok := expected.([]any)
		if !ok {
			return false
		}
		for _, v := range list {
			if equalValues(actual, v) {
				return false
			}
		}
		return true
	case OpContains:
		s, ok := actual.(string)
		sub, ok2 := expected.(string)
		return ok && ok2 && strings.Contains(s, sub)
	case OpStartsWith:
		s, ok := actual.(string)
		pre, ok2 := expected.(string)
		return ok && ok2 && strings.HasPrefix(s, pre)
	case OpEndsWith:
		s, ok := actual.(string)
		suf, ok2 := expected.(string)
		return ok && ok2 && strings.HasSuffix(s, suf)
	default:
		return false // operador desconocido: se falla cerrado
	}
}

// equalValues compara con coerción numérica: los valores vienen mezclados
// de JSONB (float64) y de structs Go (int, int64).
func equalValues(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok2 := toFloat(b); ok2 {
			return fa == fb
		}
		return false
	}
	return a == b
}

// compareValues retorna -1/0/1 si ambos son numéricos o ambos strings.
func compareValues(a, b any) (int, bool) {
	if fa, ok := toFloat(a); ok {
		fb, ok2 := toFloat(b)
		if !ok2 {
			return 0, false
		}
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	}
	sa, ok := a.(string)
	sb, ok2 := b.(string)
	if !ok || !ok2 {
		return 0, false
	}
	return strings.Compare(sa, sb), true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
