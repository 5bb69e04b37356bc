package codebook

import (
	"fmt"
	"strconv"
	"strings"

	"litreview/internal/logging"
)

// Issue codes.
const (
	IssueMissingKey      = "missing_key"
	IssueDuplicateESID   = "duplicate_es_id"
	IssueBadEnum         = "bad_enum"
	IssueBadInteger      = "bad_integer"
	IssueBadNumeric      = "bad_numeric"
	IssueBadBool         = "bad_bool"
	IssueMissingRequired = "missing_required"
)

// Issue is one validation finding. Row is the line in the sheet.
type Issue struct {
	Row     int    `json:"row"`
	Column  string `json:"column"`
	Value   string `json:"value,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("line %d: %s: %s", i.Row, i.Column, i.Message)
}

// Validate checks keys, es_id uniqueness and every schema column.
// Columns not in the schema are ignored.
func Validate(rows []Row) []Issue {
	var issues []Issue
	seen := make(map[string]int)

	for _, r := range rows {
		for _, key := range []string{ColStudyID, ColESID} {
			if r.Get(key) == "" {
				issues = append(issues, Issue{Row: r.Line, Column: key, Code: IssueMissingKey,
					Message: "key column is empty"})
			}
		}
		if id := r.ESID(); id != "" {
			if first, dup := seen[id]; dup {
				issues = append(issues, Issue{Row: r.Line, Column: ColESID, Value: id, Code: IssueDuplicateESID,
					Message: fmt.Sprintf("es_id %q already used on line %d", id, first)})
			} else {
				seen[id] = r.Line
			}
		}

		for i := range Schema {
			col := &Schema[i]
			if col.Name == ColStudyID || col.Name == ColESID {
				continue
			}
			if is, ok := checkValue(col, r.Get(col.Name)); !ok {
				is.Row = r.Line
				issues = append(issues, is)
			}
		}
	}

	logging.Codebook("Validated %d rows: %d issues", len(rows), len(issues))
	return issues
}

func checkValue(col *Column, v string) (Issue, bool) {
	if v == "" {
		if col.Required {
			return Issue{Column: col.Name, Code: IssueMissingRequired,
				Message: "required value missing (use NA, 999, 998 or 997)"}, false
		}
		return Issue{}, true
	}
	if IsSentinel(v) {
		return Issue{}, true
	}

	switch col.Kind {
	case KindInteger:
		if _, err := strconv.Atoi(v); err != nil {
			return Issue{Column: col.Name, Value: v, Code: IssueBadInteger, Message: "not an integer"}, false
		}
	case KindNumeric:
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			return Issue{Column: col.Name, Value: v, Code: IssueBadNumeric, Message: "not a number"}, false
		}
	case KindEnum:
		if !col.InEnum(v) {
			return Issue{Column: col.Name, Value: v, Code: IssueBadEnum,
				Message: fmt.Sprintf("%q not in {%s}", v, strings.Join(col.Enum, ", "))}, false
		}
	case KindBool:
		if _, ok := parseBool(v); !ok {
			return Issue{Column: col.Name, Value: v, Code: IssueBadBool, Message: "not true/false"}, false
		}
	}
	return Issue{}, true
}

func parseBool(v string) (bool, bool) {
	switch strings.ToLower(v) {
	case "true", "yes", "1":
		return true, true
	case "false", "no", "0":
		return false, true
	}
	return false, false
}
