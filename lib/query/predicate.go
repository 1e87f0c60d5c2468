package query

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/dPersist/lib/util"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/text/language"
)

// --------------------------------------------------------------------------
// Operators
// --------------------------------------------------------------------------

const (
	OpEquals             = "="
	OpNotEquals          = "!="
	OpLessThan           = "<"
	OpLessThanOrEqual    = "<="
	OpGreaterThan        = ">"
	OpGreaterThanOrEqual = ">="
	OpStartsWith         = "^="
	OpContains           = "contains"
	OpMatchesAny         = "matches"
	OpMatchesAll         = "matchesall"

	OpAnd = "and"
	OpOr  = "or"
	OpNot = "not"
)

// Special keys understood by every database
const (
	KeyID   = "_id"
	KeyType = "_type"
	KeyAny  = "_any"
)

// ErrBlank is returned when a predicate is built with a blank operator or key
var ErrBlank = errors.New("operator and key must not be blank")

// --------------------------------------------------------------------------
// Settings
// --------------------------------------------------------------------------

const DefaultSubQueryResolveLimit = 100

var (
	subQueryResolveLimit atomic.Int64
	nullAliasesAsMissing atomic.Bool
)

func init() {
	subQueryResolveLimit.Store(DefaultSubQueryResolveLimit)
}

// SetSubQueryResolveLimit sets how many ids a sub-query value expands to at most
func SetSubQueryResolveLimit(limit int) {
	if limit <= 0 {
		limit = DefaultSubQueryResolveLimit
	}
	subQueryResolveLimit.Store(int64(limit))
}

// SubQueryResolveLimit returns the current sub-query resolve limit
func SubQueryResolveLimit() int {
	return int(subQueryResolveLimit.Load())
}

// SetNullAliasesAsMissing controls whether nil comparison values are turned into
// the Missing sentinel
func SetNullAliasesAsMissing(enabled bool) {
	nullAliasesAsMissing.Store(enabled)
}

// --------------------------------------------------------------------------
// Value normalization
// --------------------------------------------------------------------------

// missingValue is the type of Missing
type missingValue struct{}

func (missingValue) String() string { return "missing" }

// Missing matches records where the field is not set at all
var Missing any = missingValue{}

// Identifiable values (records) are compared by their id
type Identifiable interface {
	ID() uuid.UUID
}

// Named values (enum like types) are compared by their name
type Named interface {
	Name() string
}

// ObjectType values are compared by the id of the record type they name
type ObjectType interface {
	TypeName() string
}

// TypeName is the simplest ObjectType
type TypeName string

func (t TypeName) TypeName() string { return string(t) }

// normalize converts a comparison value to its canonical form and appends it to out.
// Slices are flattened.
func normalize(out []any, v any) []any {
	switch x := v.(type) {
	case nil:
		if nullAliasesAsMissing.Load() {
			return append(out, Missing)
		}
		return append(out, nil)
	case *Query, missingValue, uuid.UUID, string, bool:
		return append(out, x)
	case time.Time:
		return append(out, x.UnixMilli())
	case language.Tag:
		return append(out, x.String())
	case ObjectType:
		return append(out, util.TypeID(x.TypeName()))
	case Identifiable:
		return append(out, x.ID())
	case Named:
		return append(out, x.Name())
	}
	if s, ok := util.AsSlice(v); ok {
		for _, e := range s {
			out = normalize(out, e)
		}
		return out
	}
	return append(out, v)
}

// --------------------------------------------------------------------------
// Predicate
// --------------------------------------------------------------------------

// Predicate is an immutable node of a boolean query expression
type Predicate interface {
	Operator() string
	String() string

	// writeKey writes the structural representation used by Key and Equal
	writeKey(sb *strings.Builder)
}

// Key returns the structural key of a predicate. Two predicates are equal iff
// their keys are equal. A nil predicate has the key "".
func Key(p Predicate) string {
	if p == nil {
		return ""
	}
	var sb strings.Builder
	p.writeKey(&sb)
	return sb.String()
}

// Equal compares two predicates structurally
func Equal(a, b Predicate) bool {
	return Key(a) == Key(b)
}

// --------------------------------------------------------------------------
// ComparisonPredicate
// --------------------------------------------------------------------------

// ComparisonPredicate is a leaf comparing the value at key with one or more values
type ComparisonPredicate struct {
	operator   string
	ignoreCase bool
	key        string
	values     []any
}

// NewComparison creates a new comparison leaf. A nil values slice is treated as a
// single nil value.
func NewComparison(operator string, ignoreCase bool, key string, values []any) (*ComparisonPredicate, error) {
	if strings.TrimSpace(operator) == "" || strings.TrimSpace(key) == "" {
		return nil, errors.Wrapf(ErrBlank, "comparison %q %q", key, operator)
	}

	var normalized []any
	if values == nil {
		normalized = normalize(nil, nil)
	} else {
		normalized = make([]any, 0, len(values))
		for _, v := range values {
			normalized = normalize(normalized, v)
		}
	}

	return &ComparisonPredicate{
		operator:   operator,
		ignoreCase: ignoreCase,
		key:        key,
		values:     normalized,
	}, nil
}

func (p *ComparisonPredicate) Operator() string   { return p.operator }
func (p *ComparisonPredicate) Key() string        { return p.key }
func (p *ComparisonPredicate) IsIgnoreCase() bool { return p.ignoreCase }

// Values returns a copy of the normalized values
func (p *ComparisonPredicate) Values() []any {
	out := make([]any, len(p.values))
	copy(out, p.values)
	return out
}

// FindValueQuery returns the sub-query if the predicate compares against exactly
// one query value, nil otherwise
func (p *ComparisonPredicate) FindValueQuery() *Query {
	if len(p.values) != 1 {
		return nil
	}
	q, _ := p.values[0].(*Query)
	return q
}

func (p *ComparisonPredicate) String() string {
	var sb strings.Builder
	sb.WriteString(p.key)
	sb.WriteByte(' ')
	sb.WriteString(p.operator)
	if p.ignoreCase {
		sb.WriteString("[c]")
	}
	sb.WriteByte(' ')

	if len(p.values) == 1 {
		writeValue(&sb, p.values[0])
		return sb.String()
	}
	sb.WriteByte('(')
	for i, v := range p.values {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeValue(&sb, v)
	}
	sb.WriteByte(')')
	return sb.String()
}

func writeValue(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("null")
	case string:
		sb.WriteString(fmt.Sprintf("%q", x))
	case *Query:
		sb.WriteString("{" + x.String() + "}")
	default:
		sb.WriteString(util.ToString(x))
	}
}

func (p *ComparisonPredicate) writeKey(sb *strings.Builder) {
	sb.WriteString("c(")
	sb.WriteString(fmt.Sprintf("%q", p.key))
	sb.WriteString(p.operator)
	if p.ignoreCase {
		sb.WriteString("[c]")
	}
	for _, v := range p.values {
		sb.WriteByte(',')
		writeValueKey(sb, v)
	}
	sb.WriteByte(')')
}

// writeValueKey writes a type tagged value so that "1" and 1 never share a key
func writeValueKey(sb *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		sb.WriteString("n")
	case missingValue:
		sb.WriteString("m")
	case string:
		sb.WriteString("s" + fmt.Sprintf("%q", x))
	case bool:
		sb.WriteString(fmt.Sprintf("b%t", x))
	case uuid.UUID:
		// ids and their string form select the same rows
		sb.WriteString("s" + fmt.Sprintf("%q", x.String()))
	case *Query:
		sb.WriteString("q{" + x.Key() + "}")
	default:
		if f, ok := util.ToFloat(x); ok {
			sb.WriteString(fmt.Sprintf("f%v", f))
		} else {
			sb.WriteString(fmt.Sprintf("v%#v", x))
		}
	}
}

// --------------------------------------------------------------------------
// CompoundPredicate
// --------------------------------------------------------------------------

// CompoundPredicate combines child predicates with and, or or not
type CompoundPredicate struct {
	operator string
	children []Predicate
}

// NewCompound creates a compound node. Nil children are dropped.
func NewCompound(operator string, children ...Predicate) *CompoundPredicate {
	c := &CompoundPredicate{operator: operator}
	for _, child := range children {
		if child != nil {
			c.children = append(c.children, child)
		}
	}
	return c
}

func (p *CompoundPredicate) Operator() string { return p.operator }

// Children returns a copy of the child list
func (p *CompoundPredicate) Children() []Predicate {
	out := make([]Predicate, len(p.children))
	copy(out, p.children)
	return out
}

func (p *CompoundPredicate) String() string {
	var sb strings.Builder
	if p.operator == OpNot {
		sb.WriteString("not (")
		for i, child := range p.children {
			if i > 0 {
				sb.WriteString(" or ")
			}
			sb.WriteString(child.String())
		}
		sb.WriteByte(')')
		return sb.String()
	}

	sb.WriteByte('(')
	for i, child := range p.children {
		if i > 0 {
			sb.WriteString(" " + p.operator + " ")
		}
		sb.WriteString(child.String())
	}
	sb.WriteByte(')')
	return sb.String()
}

func (p *CompoundPredicate) writeKey(sb *strings.Builder) {
	sb.WriteString(p.operator)
	sb.WriteByte('[')
	for i, child := range p.children {
		if i > 0 {
			sb.WriteByte(';')
		}
		child.writeKey(sb)
	}
	sb.WriteByte(']')
}

// Combine joins two predicates with operator. A nil side yields the other side,
// except for not, which always wraps the one given side. If left already is a
// compound with the same operator, right is appended to a copy of its children.
func Combine(operator string, left, right Predicate) Predicate {
	if operator == OpNot {
		if left == nil {
			if right == nil {
				return nil
			}
			return NewCompound(OpNot, right)
		}
		if right == nil {
			return NewCompound(OpNot, left)
		}
	}

	if left == nil {
		return right
	}
	if right == nil {
		return left
	}

	if compound, ok := left.(*CompoundPredicate); ok && compound.operator == operator {
		children := make([]Predicate, 0, len(compound.children)+1)
		children = append(children, compound.children...)
		children = append(children, right)
		return &CompoundPredicate{operator: operator, children: children}
	}

	return NewCompound(operator, left, right)
}

// --------------------------------------------------------------------------
// Builders
// --------------------------------------------------------------------------

func mustComparison(op string, ignoreCase bool, key string, values []any) *ComparisonPredicate {
	p, err := NewComparison(op, ignoreCase, key, values)
	if err != nil {
		panic(err)
	}
	return p
}

// Eq matches records where key equals any of the values. It panics on a blank key.
func Eq(key string, values ...any) *ComparisonPredicate {
	return mustComparison(OpEquals, false, key, nilIfEmpty(values))
}

// EqIgnoreCase is Eq with case-insensitive string comparison
func EqIgnoreCase(key string, values ...any) *ComparisonPredicate {
	return mustComparison(OpEquals, true, key, nilIfEmpty(values))
}

func NotEq(key string, values ...any) *ComparisonPredicate {
	return mustComparison(OpNotEquals, false, key, nilIfEmpty(values))
}

func Lt(key string, value any) *ComparisonPredicate {
	return mustComparison(OpLessThan, false, key, []any{value})
}

func Lte(key string, value any) *ComparisonPredicate {
	return mustComparison(OpLessThanOrEqual, false, key, []any{value})
}

func Gt(key string, value any) *ComparisonPredicate {
	return mustComparison(OpGreaterThan, false, key, []any{value})
}

func Gte(key string, value any) *ComparisonPredicate {
	return mustComparison(OpGreaterThanOrEqual, false, key, []any{value})
}

func StartsWith(key string, prefix string) *ComparisonPredicate {
	return mustComparison(OpStartsWith, false, key, []any{prefix})
}

func Contains(key string, value any) *ComparisonPredicate {
	return mustComparison(OpContains, false, key, []any{value})
}

// Matches is a full text match of any of the given terms
func Matches(key string, terms ...any) *ComparisonPredicate {
	return mustComparison(OpMatchesAny, true, key, nilIfEmpty(terms))
}

// MatchesAll is a full text match requiring all terms
func MatchesAll(key string, terms ...any) *ComparisonPredicate {
	return mustComparison(OpMatchesAll, true, key, nilIfEmpty(terms))
}

func And(predicates ...Predicate) Predicate {
	return fold(OpAnd, predicates)
}

func Or(predicates ...Predicate) Predicate {
	return fold(OpOr, predicates)
}

func Not(p Predicate) Predicate {
	return Combine(OpNot, p, nil)
}

func fold(op string, predicates []Predicate) Predicate {
	var result Predicate
	for _, p := range predicates {
		result = Combine(op, result, p)
	}
	return result
}

func nilIfEmpty(values []any) []any {
	if len(values) == 0 {
		return nil
	}
	return values
}
