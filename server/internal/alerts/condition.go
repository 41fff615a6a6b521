package alerts

import (
	"strconv"
	"strings"

	"github.com/threatwatch/threatwatch/pkg/types"
)

// evalCondition evaluates a rule condition string against one record.
//
// Supported expressions (field operator value):
//
//	severity >= 80
//	confidence < 75
//	credible > 10
//	not_credible >= 5
//	type == Cyber
//	region == Europe
//	type != Climate
//
// type and region compare case-insensitively; region matches when any of
// the record's regions does. Values may contain spaces ("region == North
// America"). Returns (fires bool, triggering value float64), or (false, 0)
// if the expression cannot be parsed or the field is unknown.
func evalCondition(cond string, rec types.Record) (bool, float64) {
	parts := strings.Fields(cond)
	if len(parts) < 3 {
		return false, 0
	}
	field, op, rhs := parts[0], parts[1], strings.Join(parts[2:], " ")

	switch field {
	case "type", "category":
		return compareString(rec.Category, op, rhs), 0

	case "region":
		match := false
		for _, r := range rec.Regions {
			if strings.EqualFold(r, rhs) {
				match = true
				break
			}
		}
		switch op {
		case "==":
			return match, 0
		case "!=":
			return !match, 0
		}
		return false, 0

	default:
		v, ok := numericField(field, rec)
		if !ok {
			return false, 0
		}
		threshold, err := strconv.ParseFloat(rhs, 64)
		if err != nil {
			return false, 0
		}
		return compareFloat(v, op, threshold), v
	}
}

// validCondition reports whether cond parses into a known field and operator.
func validCondition(cond string) bool {
	parts := strings.Fields(cond)
	if len(parts) < 3 {
		return false
	}
	switch parts[0] {
	case "type", "category", "region":
		return parts[1] == "==" || parts[1] == "!="
	}
	if _, ok := numericField(parts[0], types.Record{}); !ok {
		return false
	}
	if _, err := strconv.ParseFloat(parts[2], 64); err != nil || len(parts) != 3 {
		return false
	}
	switch parts[1] {
	case ">", ">=", "<", "<=", "==", "!=":
		return true
	}
	return false
}

// numericField maps a field name to its value in the record.
func numericField(field string, rec types.Record) (float64, bool) {
	switch field {
	case "severity":
		return float64(rec.Severity), true
	case "confidence":
		return float64(rec.Confidence), true
	case "credible":
		return float64(rec.Votes.Credible), true
	case "not_credible":
		return float64(rec.Votes.NotCredible), true
	default:
		return 0, false
	}
}

func compareString(v, op, want string) bool {
	switch op {
	case "==":
		return strings.EqualFold(v, want)
	case "!=":
		return !strings.EqualFold(v, want)
	default:
		return false
	}
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
