// Package search implements the Search Translator (C7): FHIR search
// query parameters are turned into a parameterized SQL WHERE clause
// against the JSON document column the Storage Engine (C6) maintains.
//
// Grounded on core/backend.collection.go's dynamic predicate generation
// (the "properties->>'%s'%s$%d" pattern of comparing a JSON field against
// a placeholder with a caller-chosen operator), generalized here across
// the full FHIR search parameter type-dispatch table of §4.6 instead of
// collection.go's single equality/contains case.
package search

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fhircore/server/internal/model"
	"github.com/fhircore/server/internal/searchparams"
)

// Query is the translated result: a WHERE fragment (without the leading
// "WHERE"), its positional arguments starting at $1, and the pagination
// the caller should apply.
type Query struct {
	Where  string
	Args   []interface{}
	Limit  int
	Offset int
}

// defaultCount is applied when the request carries no _count parameter.
const defaultCount = 50

// maxCount bounds _count so a client cannot force an unbounded scan.
const maxCount = 1000

// Translator turns request query parameters into a Query for one resource
// type, consulting the Search Parameter Registry (C2) for each code's
// type and allow-list membership.
type Translator struct {
	params *searchparams.Registry
}

// New constructs a Translator over reg.
func New(reg *searchparams.Registry) *Translator {
	return &Translator{params: reg}
}

// resultShapingCodes are the non-predicate control codes of §4.6 step 2
// that this server skips rather than translating into a WHERE clause.
// _count/_offset/_sort carry real handling below; the rest only affect
// how a result set is shaped or rendered, a concern outside the Search
// Translator, and must not fail the request merely for being present.
var resultShapingCodes = map[string]bool{
	"_sort": true, "_include": true, "_revinclude": true, "_summary": true,
	"_elements": true, "_contained": true, "_containedType": true,
	"_total": true, "_format": true,
}

// Translate converts query into a Query for resourceType. Every
// unrecognized or disabled parameter code fails closed with
// model.ErrInvalidSearchParameter (§4.2), except the reserved control
// parameters of §4.6 step 2, which this function either handles itself
// (_count, _offset) or skips outright (resultShapingCodes).
func (t *Translator) Translate(resourceType string, query url.Values) (Query, error) {
	q := Query{Limit: defaultCount}
	argN := 0

	var clauses []string
	for rawKey, values := range query {
		code, modifier := splitModifier(rawKey)
		switch {
		case code == "_count":
			n, err := parsePositiveInt(values[0])
			if err != nil {
				return Query{}, model.ErrInvalidSearchValue(code, values[0])
			}
			if n > maxCount {
				n = maxCount
			}
			q.Limit = n
			continue
		case code == "_offset":
			n, err := parsePositiveInt(values[0])
			if err != nil {
				return Query{}, model.ErrInvalidSearchValue(code, values[0])
			}
			q.Offset = n
			continue
		case resultShapingCodes[code]:
			continue
		case code == "_id":
			for _, value := range values {
				clause, args, err := idPredicate(value, argN)
				if err != nil {
					return Query{}, err
				}
				clauses = append(clauses, clause)
				q.Args = append(q.Args, args...)
				argN += len(args)
			}
			continue
		case code == "_lastUpdated":
			for _, value := range values {
				clause, args, err := lastUpdatedPredicate(value, argN)
				if err != nil {
					return Query{}, err
				}
				clauses = append(clauses, clause)
				q.Args = append(q.Args, args...)
				argN += len(args)
			}
			continue
		}

		def, ok := t.params.Definition(resourceType, code)
		if !ok {
			return Query{}, model.ErrInvalidSearchParameter(rawKey)
		}

		for _, value := range values {
			clause, args, err := t.predicate(def, modifier, value, argN)
			if err != nil {
				return Query{}, err
			}
			clauses = append(clauses, clause)
			q.Args = append(q.Args, args...)
			argN += len(args)
		}
	}

	q.Where = strings.Join(clauses, " AND ")
	return q, nil
}

// idPredicate compares the resource_id column directly, per §4.6 step 2's
// requirement that _id be routed to the row's own identity column rather
// than through a JSON-path expression on stored content.
func idPredicate(value string, argOffset int) (string, []interface{}, error) {
	return fmt.Sprintf("resource_id = %s", arg(argOffset)), []interface{}{value}, nil
}

// lastUpdatedPredicate compares the last_updated column directly, the
// same column-routing requirement applied to _lastUpdated.
func lastUpdatedPredicate(value string, argOffset int) (string, []interface{}, error) {
	prefix, rest := splitPrefix(value)
	op, ok := datePrefixes[prefix]
	if !ok {
		return "", nil, model.ErrInvalidSearchValue("_lastUpdated", value)
	}
	return fmt.Sprintf("last_updated %s %s", op, arg(argOffset)), []interface{}{rest}, nil
}

func splitModifier(key string) (code, modifier string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i], key[i+1:]
	}
	return key, ""
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("not a non-negative integer: %q", s)
	}
	return n, nil
}

// jsonPath renders def's FHIRPath-like expression as a Postgres jsonb
// path array, dropping the "ResourceType." prefix the expression carries.
func jsonPath(expression string) []string {
	parts := strings.Split(expression, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return parts
}

// column builds a "content#>>'{a,b}'" text-extraction expression for
// def's expression, the JSON-path reduction required by §4.6.
func column(expression string) string {
	path := jsonPath(expression)
	quoted := make([]string, len(path))
	for i, p := range path {
		quoted[i] = p
	}
	return fmt.Sprintf(`content#>>'{%s}'`, strings.Join(quoted, ","))
}

// predicate dispatches on def.Type to build one SQL clause, per the
// type-dispatch table of §4.6. argOffset is the number of positional
// arguments already consumed by earlier clauses in this query.
func (t *Translator) predicate(def searchparams.Def, modifier, value string, argOffset int) (string, []interface{}, error) {
	switch def.Type {
	case searchparams.TypeString:
		return stringPredicate(def, modifier, value, argOffset)
	case searchparams.TypeToken:
		return tokenPredicate(def, modifier, value, argOffset)
	case searchparams.TypeDate:
		return datePredicate(def, value, argOffset)
	case searchparams.TypeNumber:
		return numberPredicate(def, value, argOffset)
	case searchparams.TypeURI:
		return uriPredicate(def, modifier, value, argOffset)
	case searchparams.TypeReference:
		return referencePredicate(def, value, argOffset)
	case searchparams.TypeQuantity:
		return quantityPredicate(def, value, argOffset)
	case searchparams.TypeComposite:
		return compositePredicate(def, value, argOffset)
	case searchparams.TypeSpecial:
		return "", nil, model.ErrNotSupported("search parameter type 'special' is not implemented: " + def.Code)
	default:
		return "", nil, model.ErrNotSupported("unknown search parameter type for " + def.Code)
	}
}

func arg(n int) string { return fmt.Sprintf("$%d", n+1) }

func stringPredicate(def searchparams.Def, modifier, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression)
	switch modifier {
	case "exact":
		return fmt.Sprintf("%s = %s", col, arg(argOffset)), []interface{}{value}, nil
	case "contains":
		return fmt.Sprintf("%s ILIKE %s", col, arg(argOffset)), []interface{}{"%" + value + "%"}, nil
	case "missing":
		want, err := strconv.ParseBool(value)
		if err != nil {
			return "", nil, model.ErrInvalidSearchValue(def.Code, value)
		}
		if want {
			return fmt.Sprintf("%s IS NULL", col), nil, nil
		}
		return fmt.Sprintf("%s IS NOT NULL", col), nil, nil
	case "":
		// default: case-insensitive starts-with, per §4.6.
		return fmt.Sprintf("%s ILIKE %s", col, arg(argOffset)), []interface{}{value + "%"}, nil
	default:
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
}

func tokenPredicate(def searchparams.Def, modifier, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression)
	system, code := splitTokenValue(value)
	switch modifier {
	case "not":
		if system != "" {
			return fmt.Sprintf("NOT (%s = %s)", col, arg(argOffset)), []interface{}{code}, nil
		}
		return fmt.Sprintf("NOT (%s = %s)", col, arg(argOffset)), []interface{}{code}, nil
	case "missing":
		want, err := strconv.ParseBool(value)
		if err != nil {
			return "", nil, model.ErrInvalidSearchValue(def.Code, value)
		}
		if want {
			return fmt.Sprintf("%s IS NULL", col), nil, nil
		}
		return fmt.Sprintf("%s IS NOT NULL", col), nil, nil
	default:
		return fmt.Sprintf("%s = %s", col, arg(argOffset)), []interface{}{code}, nil
	}
}

// splitTokenValue splits a "system|code" token search value. A value with
// no pipe is treated as a bare code.
func splitTokenValue(value string) (system, code string) {
	if i := strings.IndexByte(value, '|'); i >= 0 {
		return value[:i], value[i+1:]
	}
	return "", value
}

// datePrefixes maps the two-letter search prefixes of §4.6 to SQL
// comparison operators. "sa"/"eb" (starts-after, ends-before) degrade to
// strict ">"/"<" and "ap" (approximately) to equality: this server does
// not model FHIR's fuzzy-range date semantics, a simplification recorded
// in DESIGN.md.
var datePrefixes = map[string]string{
	"eq": "=", "ne": "<>", "lt": "<", "le": "<=", "gt": ">", "ge": ">=",
	"sa": ">", "eb": "<", "ap": "=",
}

func datePredicate(def searchparams.Def, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression)
	prefix, rest := splitPrefix(value)
	op, ok := datePrefixes[prefix]
	if !ok {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	return fmt.Sprintf("%s %s %s", col, op, arg(argOffset)), []interface{}{rest}, nil
}

var numberPrefixes = map[string]string{
	"eq": "=", "ne": "<>", "lt": "<", "le": "<=", "gt": ">", "ge": ">=", "sa": ">", "eb": "<", "ap": "=",
}

func numberPredicate(def searchparams.Def, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression)
	prefix, rest := splitPrefix(value)
	op, ok := numberPrefixes[prefix]
	if !ok {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	n, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	return fmt.Sprintf("(%s)::numeric %s %s", col, op, arg(argOffset)), []interface{}{n}, nil
}

// splitPrefix peels a two-letter comparison prefix off value, defaulting
// to "eq" when none is present, per §4.6.
func splitPrefix(value string) (prefix, rest string) {
	if len(value) >= 2 {
		if _, ok := datePrefixes[value[:2]]; ok {
			return value[:2], value[2:]
		}
	}
	return "eq", value
}

func uriPredicate(def searchparams.Def, modifier, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression)
	switch modifier {
	case "below":
		return fmt.Sprintf("%s LIKE %s", col, arg(argOffset)), []interface{}{value + "%"}, nil
	default:
		return fmt.Sprintf("%s = %s", col, arg(argOffset)), []interface{}{value}, nil
	}
}

func referencePredicate(def searchparams.Def, value string, argOffset int) (string, []interface{}, error) {
	col := column(def.Expression) + "->>'reference'"
	// Accept either a bare id or a "ResourceType/id" value; a bare id
	// matches by suffix so the caller need not know the target type.
	if strings.Contains(value, "/") {
		return fmt.Sprintf("%s = %s", col, arg(argOffset)), []interface{}{value}, nil
	}
	return fmt.Sprintf("%s LIKE %s", col, arg(argOffset)), []interface{}{"%/" + value}, nil
}

func quantityPredicate(def searchparams.Def, value string, argOffset int) (string, []interface{}, error) {
	parts := strings.SplitN(value, "|", 3)
	prefix, numStr := splitPrefix(parts[0])
	op, ok := numberPrefixes[prefix]
	if !ok {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	n, err := strconv.ParseFloat(numStr, 64)
	if err != nil {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	valueCol := column(def.Expression) + "->>'value'"
	clause := fmt.Sprintf("(%s)::numeric %s %s", valueCol, op, arg(argOffset))
	args := []interface{}{n}
	if len(parts) == 3 && parts[2] != "" {
		codeCol := column(def.Expression) + "->>'code'"
		clause = fmt.Sprintf("(%s AND %s = %s)", clause, codeCol, arg(argOffset+1))
		args = append(args, parts[2])
	}
	return clause, args, nil
}

// compositePredicate conjoins each component's own predicate. This is an
// approximation of FHIR composite semantics, which requires every
// component to match the *same* repeating element; conjoining independent
// column predicates instead allows a cross-match between array elements.
// Recorded as a known simplification in DESIGN.md.
func compositePredicate(def searchparams.Def, value string, argOffset int) (string, []interface{}, error) {
	values := strings.SplitN(value, "$", len(def.Components))
	if len(values) != len(def.Components) {
		return "", nil, model.ErrInvalidSearchValue(def.Code, value)
	}
	var clauses []string
	var args []interface{}
	n := argOffset
	for i, comp := range def.Components {
		col := column(comp.Expression)
		clauses = append(clauses, fmt.Sprintf("%s = %s", col, arg(n)))
		args = append(args, values[i])
		n++
	}
	return "(" + strings.Join(clauses, " AND ") + ")", args, nil
}
