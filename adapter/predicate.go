package adapter

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

// RelOp is a relational operator compiled from the public filter
// language.
type RelOp string

const (
	Eq    RelOp = "EQ"
	Neq   RelOp = "NEQ"
	Lt    RelOp = "LT"
	Lte   RelOp = "LTE"
	Gt    RelOp = "GT"
	Gte   RelOp = "GTE"
	In    RelOp = "IN"
	NotIn RelOp = "NOT_IN"
	Exist RelOp = "EXISTS"
	Like  RelOp = "LIKE"
)

// Predicate is the adapter-native, already-rewritten predicate tree: it
// speaks storage paths (e.g. "config.x.y"), never public-API paths. It can
// render itself as a bson.M filter (mongoadapter) or evaluate itself
// in-process against a decoded document (memoryadapter), so both adapters
// agree on semantics by construction.
type Predicate interface {
	ToBSON() bson.M
	Eval(doc bson.M) bool
}

// Relational is a leaf predicate: field <op> value.
type Relational struct {
	Field string
	Op    RelOp
	Value any
}

func (r Relational) ToBSON() bson.M {
	switch r.Op {
	case Eq:
		return bson.M{r.Field: bson.M{"$eq": r.Value}}
	case Neq:
		return bson.M{r.Field: bson.M{"$ne": r.Value}}
	case Lt:
		return bson.M{r.Field: bson.M{"$lt": r.Value}}
	case Lte:
		return bson.M{r.Field: bson.M{"$lte": r.Value}}
	case Gt:
		return bson.M{r.Field: bson.M{"$gt": r.Value}}
	case Gte:
		return bson.M{r.Field: bson.M{"$gte": r.Value}}
	case In:
		return bson.M{r.Field: bson.M{"$in": r.Value}}
	case NotIn:
		return bson.M{r.Field: bson.M{"$nin": r.Value}}
	case Exist:
		return bson.M{r.Field: bson.M{"$exists": r.Value}}
	case Like:
		// LIKE is a plain substring match (see Eval below), not a regex
		// search: escape the value so it can't be read as a Mongo regex
		// pattern, keeping the two adapters' semantics identical for any
		// value, including one containing regex metacharacters.
		return bson.M{r.Field: bson.M{"$regex": regexp.QuoteMeta(fmt.Sprintf("%v", r.Value))}}
	}
	return bson.M{}
}

func (r Relational) Eval(doc bson.M) bool {
	actual, exists := lookupPath(doc, r.Field)
	switch r.Op {
	case Exist:
		want, _ := r.Value.(bool)
		return exists == want
	case Eq:
		return exists && compareEqual(actual, r.Value)
	case Neq:
		return !exists || !compareEqual(actual, r.Value)
	case In:
		return exists && containsValue(r.Value, actual)
	case NotIn:
		return !exists || !containsValue(r.Value, actual)
	case Like:
		s, ok := actual.(string)
		pattern, _ := r.Value.(string)
		return ok && exists && strings.Contains(s, pattern)
	case Lt, Lte, Gt, Gte:
		if !exists {
			return false
		}
		cmp, ok := compareOrdered(actual, r.Value)
		if !ok {
			return false
		}
		switch r.Op {
		case Lt:
			return cmp < 0
		case Lte:
			return cmp <= 0
		case Gt:
			return cmp > 0
		case Gte:
			return cmp >= 0
		}
	}
	return false
}

// LogicalOp is a boolean combinator.
type LogicalOp string

const (
	And LogicalOp = "AND"
	Or  LogicalOp = "OR"
)

// Logical is an AND/OR of child predicates.
type Logical struct {
	Op       LogicalOp
	Children []Predicate
}

func (l Logical) ToBSON() bson.M {
	parts := make(bson.A, 0, len(l.Children))
	for _, c := range l.Children {
		parts = append(parts, c.ToBSON())
	}
	switch l.Op {
	case And:
		return bson.M{"$and": parts}
	case Or:
		return bson.M{"$or": parts}
	}
	return bson.M{}
}

func (l Logical) Eval(doc bson.M) bool {
	switch l.Op {
	case And:
		for _, c := range l.Children {
			if !c.Eval(doc) {
				return false
			}
		}
		return true
	case Or:
		for _, c := range l.Children {
			if c.Eval(doc) {
				return true
			}
		}
		return false
	}
	return false
}

// Not negates a single child predicate.
type Not struct {
	Child Predicate
}

func (n Not) ToBSON() bson.M {
	return bson.M{"$nor": bson.A{n.Child.ToBSON()}}
}

func (n Not) Eval(doc bson.M) bool {
	return !n.Child.Eval(doc)
}

// MatchAll is the predicate that matches every document, used for
// unconditional queries/deletes.
type MatchAll struct{}

func (MatchAll) ToBSON() bson.M    { return bson.M{} }
func (MatchAll) Eval(bson.M) bool { return true }

// lookupPath resolves a dotted path ("config.x.y") against a bson.M
// document the way Mongo's own dotted-field matching does.
func lookupPath(doc bson.M, path string) (any, bool) {
	segments := strings.Split(path, ".")
	var cur any = doc
	for _, seg := range segments {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		v, ok := m[seg]
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case bson.M:
		return m, true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

func compareEqual(a, b any) bool {
	return reflect.DeepEqual(normalizeNumber(a), normalizeNumber(b))
}

func containsValue(haystack any, needle any) bool {
	v := reflect.ValueOf(haystack)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	for i := 0; i < v.Len(); i++ {
		if compareEqual(v.Index(i).Interface(), needle) {
			return true
		}
	}
	return false
}

// compareOrdered compares two values when both can be interpreted as
// float64 or both as strings; ok is false for any other combination.
func compareOrdered(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	rv := reflect.ValueOf(normalizeNumber(v))
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	default:
		return 0, false
	}
}

// normalizeNumber leaves non-numeric values untouched; it exists so that
// e.g. an int compiled from a request DTO and a float64 decoded from BSON
// compare equal.
func normalizeNumber(v any) any {
	if f, ok := asFloatOnly(v); ok {
		return f
	}
	return v
}

func asFloatOnly(v any) (float64, bool) {
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
