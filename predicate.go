package configstore

import (
	"fmt"

	"github.com/rbroggi/configstore/adapter"
)

// RelOp mirrors adapter.RelOp at the public-API boundary; kept as a
// distinct type so CompileFilter is the only place that knows the mapping
// between the public grammar and the adapter-native one.
type RelOp string

const (
	OpEQ    RelOp = "EQ"
	OpNEQ   RelOp = "NEQ"
	OpLT    RelOp = "LT"
	OpLTE   RelOp = "LTE"
	OpGT    RelOp = "GT"
	OpGTE   RelOp = "GTE"
	OpIN    RelOp = "IN"
	OpNOTIN RelOp = "NOT_IN"
	OpEXIST RelOp = "EXISTS"
	OpLIKE  RelOp = "LIKE"
)

var publicToAdapterOp = map[RelOp]adapter.RelOp{
	OpEQ:    adapter.Eq,
	OpNEQ:   adapter.Neq,
	OpLT:    adapter.Lt,
	OpLTE:   adapter.Lte,
	OpGT:    adapter.Gt,
	OpGTE:   adapter.Gte,
	OpIN:    adapter.In,
	OpNOTIN: adapter.NotIn,
	OpEXIST: adapter.Exist,
	OpLIKE:  adapter.Like,
}

// LogicalOp is the public logical combinator; NOT is modeled as a Logical
// node with exactly one child rather than a third node kind, keeping the
// PredicateNode interface to two implementations.
type LogicalOp string

const (
	LogicalAND LogicalOp = "AND"
	LogicalOR  LogicalOp = "OR"
	LogicalNOT LogicalOp = "NOT"
)

// PredicateNode is the sealed variant of the public predicate tree: a
// client-supplied filter over dotted paths into
// the config payload. It is implemented by RelationalNode and LogicalNode
// only; the unexported method seals the set.
type PredicateNode interface {
	isPredicateNode()
}

// RelationalNode is a leaf predicate: lhs <op> rhs, where lhs is a dotted
// path into the config payload (e.g. "labels.environment").
type RelationalNode struct {
	LHS string
	Op  RelOp
	RHS any
}

func (RelationalNode) isPredicateNode() {}

// LogicalNode combines child predicates with AND/OR, or negates its single
// child with NOT.
type LogicalNode struct {
	Op       LogicalOp
	Children []PredicateNode
}

func (LogicalNode) isPredicateNode() {}

// CompileFilter translates a public PredicateNode tree into an
// adapter.Predicate, rewriting every leaf path "x.y.z" to "config.x.y.z"
// (predicates apply to the opaque config payload, never to top-level
// document fields).
// It preserves operator semantics exactly: no constant folding, no
// reordering that would change NULL handling. Unknown operators and
// structurally empty AND/OR are rejected with InvalidArgument.
func CompileFilter(root PredicateNode) (adapter.Predicate, error) {
	if root == nil {
		return adapter.MatchAll{}, nil
	}
	return compileNode(root)
}

func compileNode(node PredicateNode) (adapter.Predicate, error) {
	switch n := node.(type) {
	case RelationalNode:
		if n.LHS == "" {
			return nil, newError(InvalidArgument, "predicate lhs path must not be empty", nil)
		}
		op, ok := publicToAdapterOp[n.Op]
		if !ok {
			return nil, newError(InvalidArgument, fmt.Sprintf("unknown relational operator %q", n.Op), nil)
		}
		return adapter.Relational{
			Field: "config." + n.LHS,
			Op:    op,
			Value: n.RHS,
		}, nil
	case LogicalNode:
		switch n.Op {
		case LogicalNOT:
			if len(n.Children) != 1 {
				return nil, newError(InvalidArgument, "NOT requires exactly one child", nil)
			}
			child, err := compileNode(n.Children[0])
			if err != nil {
				return nil, err
			}
			return adapter.Not{Child: child}, nil
		case LogicalAND, LogicalOR:
			if len(n.Children) == 0 {
				return nil, newError(InvalidArgument, fmt.Sprintf("%s requires at least one child", n.Op), nil)
			}
			children := make([]adapter.Predicate, 0, len(n.Children))
			for _, c := range n.Children {
				compiled, err := compileNode(c)
				if err != nil {
					return nil, err
				}
				children = append(children, compiled)
			}
			op := adapter.And
			if n.Op == LogicalOR {
				op = adapter.Or
			}
			return adapter.Logical{Op: op, Children: children}, nil
		default:
			return nil, newError(InvalidArgument, fmt.Sprintf("unknown logical operator %q", n.Op), nil)
		}
	default:
		return nil, newError(InvalidArgument, "unknown predicate node type", nil)
	}
}
