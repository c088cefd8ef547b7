package fact

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ehr/cdw/internal/graph"
	"github.com/ehr/cdw/internal/vocab"
)

// Value is the decoded form of a literal: the value columns of a fact.
type Value struct {
	Type   ValType
	Text   string
	Number *float64
	Blob   string
}

type literalKind int

const (
	kindText literalKind = iota
	kindDate
	kindTime
	kindNumber
	kindBlob
)

// Datatypes are matched on their local name, so both XSD IRIs and bare FHIR
// primitive names work.
var literalKinds = map[string]literalKind{
	"date":       kindDate,
	"dateTime":   kindDate,
	"instant":    kindDate,
	"gYear":      kindDate,
	"gYearMonth": kindDate,
	"year":       kindDate,
	"yearMonth":  kindDate,

	"time": kindTime,

	"decimal":            kindNumber,
	"integer":            kindNumber,
	"int":                kindNumber,
	"long":               kindNumber,
	"short":              kindNumber,
	"double":             kindNumber,
	"float":              kindNumber,
	"positiveInteger":    kindNumber,
	"nonNegativeInteger": kindNumber,
	"positiveInt":        kindNumber,
	"unsignedInt":        kindNumber,

	"base64Binary": kindBlob,
}

var (
	dateRE = regexp.MustCompile(`^(\d{4})(?:-(\d{2})(?:-(\d{2})(?:T(\d{2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?)?)?)?(?:Z|[+-]\d{2}:\d{2})?$`)
	timeRE = regexp.MustCompile(`^(\d{2}):(\d{2})(?::(\d{2}(?:\.\d+)?))?$`)
)

// DecodeLiteral converts a lexical form and its datatype into fact value
// columns. It never fails: unknown datatypes and unparseable forms decode
// as text.
func DecodeLiteral(lexical, datatype string) Value {
	switch literalKinds[vocab.LocalName(datatype)] {
	case kindDate:
		if v, ok := decodeDate(lexical); ok {
			return v
		}
	case kindTime:
		if v, ok := decodeTime(lexical); ok {
			return v
		}
	case kindNumber:
		if n, err := strconv.ParseFloat(strings.TrimSpace(lexical), 64); err == nil {
			return Value{Type: ValNumber, Text: "E", Number: &n}
		}
	case kindBlob:
		return Value{Type: ValBlob, Blob: graph.Quote(lexical)}
	}
	return Value{Type: ValText, Text: graph.Escape(lexical)}
}

// DecodeTerm decodes a literal term, falling back to fallbackType when the
// literal carries no datatype.
func DecodeTerm(t graph.Term, fallbackType string) Value {
	dt := t.Datatype
	if dt == "" {
		dt = fallbackType
	}
	return DecodeLiteral(t.Value, dt)
}

func decodeDate(lexical string) (Value, bool) {
	m := dateRE.FindStringSubmatch(strings.TrimSpace(lexical))
	if m == nil {
		return Value{}, false
	}
	year, _ := strconv.Atoi(m[1])
	month, day := 1, 1
	if m[2] != "" {
		month, _ = strconv.Atoi(m[2])
	}
	if m[3] != "" {
		day, _ = strconv.Atoi(m[3])
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return Value{}, false
	}

	n := float64(year*10000 + month*100 + day)
	hour, minute := 0, 0
	if m[4] != "" {
		hour, _ = strconv.Atoi(m[4])
		minute, _ = strconv.Atoi(m[5])
		if !validClock(hour, minute) {
			return Value{}, false
		}
		n += float64(hour)/100 + float64(minute)/10000
	}
	text := fmt.Sprintf("%04d-%02d-%02d %02d:%02d", year, month, day, hour, minute)
	return Value{Type: ValDate, Text: text, Number: &n}, true
}

func validClock(hour, minute int) bool {
	return hour >= 0 && hour < 24 && minute >= 0 && minute < 60
}

func decodeTime(lexical string) (Value, bool) {
	m := timeRE.FindStringSubmatch(strings.TrimSpace(lexical))
	if m == nil {
		return Value{}, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if !validClock(hour, minute) {
		return Value{}, false
	}
	var second float64
	if m[3] != "" {
		second, _ = strconv.ParseFloat(m[3], 64)
	}
	n := float64(hour)/100 + float64(minute)/10000 + second/1e6
	return Value{Type: ValDate, Text: lexical, Number: &n}, true
}
