package schema

// Role is the semantic category of a column.
type Role string

const (
	NumericContinuous  Role = "numeric_continuous"
	NumericDiscrete    Role = "numeric_discrete"
	CategoricalNominal Role = "categorical_nominal"
	CategoricalOrdinal Role = "categorical_ordinal"
	Identifier         Role = "identifier"
	Datetime           Role = "datetime"
	TextFreeform       Role = "text_freeform"
	Unknown            Role = "unknown"
	Target             Role = "target"
)

// Confidences assigned to user declarations.
const (
	TargetConfidence          = 1.0
	UserCategoricalConfidence = 0.99
)

// ambiguityThreshold is the confidence below which a deterministic role is
// sent to the resolver.
const ambiguityThreshold = 0.8

// ResolvableRoles lists the roles a resolver may answer with. Target is set
// by the user only.
func ResolvableRoles() []Role {
	return []Role{
		NumericContinuous, NumericDiscrete, CategoricalNominal, CategoricalOrdinal,
		Identifier, Datetime, TextFreeform, Unknown,
	}
}

// Resolvable reports whether r is one of ResolvableRoles.
func (r Role) Resolvable() bool {
	for _, x := range ResolvableRoles() {
		if x == r {
			return true
		}
	}
	return false
}

// Deterministic applies the role rules in order; the first match wins.
func Deterministic(p Profile) (Role, float64) {
	switch {
	case p.DatetimeRatio > 0.9:
		return Datetime, 0.95
	case p.UniqueRatio > 0.98 && p.NUnique > 20:
		return Identifier, 0.9
	case p.IsNumeric && p.IsIntegerLike && p.NUnique < 30:
		return NumericDiscrete, 0.8
	case p.IsNumeric:
		return NumericContinuous, 0.85
	case p.NUnique > 100 && p.UniqueRatio > 0.5:
		return TextFreeform, 0.7
	case p.NUnique <= 50:
		return CategoricalNominal, 0.7
	default:
		return Unknown, 0.3
	}
}

// Ambiguous reports whether a deterministic answer needs arbitration.
// Discrete numbers and nominal categories are always ambiguous.
func Ambiguous(r Role, conf float64) bool {
	return conf < ambiguityThreshold || r == NumericDiscrete || r == CategoricalNominal
}

// Arbitrate keeps the resolver's answer only when it is strictly more
// confident than the deterministic one.
func Arbitrate(det Role, detConf float64, res Role, resConf float64) (Role, float64) {
	if res != "" && resConf > detConf {
		return res, resConf
	}
	return det, detConf
}
