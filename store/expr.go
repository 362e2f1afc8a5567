package store

// Op is a comparison operator.
type Op string

const (
	OpEq Op = "="
	OpNe Op = "<>"
	OpLt Op = "<"
	OpLe Op = "<="
	OpGt Op = ">"
	OpGe Op = ">="
)

// Expr is a predicate over the properties of one kind.
type Expr interface {
	isExpr()
}

// Compare compares a property with a value or a Param.
type Compare struct {
	Prop  string
	Op    Op
	Value any
}

// Logical conjoins (And) or disjoins its arguments.
type Logical struct {
	And  bool
	Args []Expr
}

// Negate inverts X.
type Negate struct {
	X Expr
}

// Null tests a property for NULL (Is) or NOT NULL.
type Null struct {
	Prop string
	Is   bool
}

// Within tests membership of a property in a value list.
type Within struct {
	Prop   string
	Values []any
}

// Related matches entities whose navigation Nav reaches an entity matching Where.
// The target kind's filters apply to the navigation.
type Related struct {
	Nav   string
	Where Expr
}

// Param is a named placeholder bound by a compiled query.
type Param string

func (Compare) isExpr() {}
func (Logical) isExpr() {}
func (Negate) isExpr()  {}
func (Null) isExpr()    {}
func (Within) isExpr()  {}
func (Related) isExpr() {}

func Eq(prop string, v any) Expr { return Compare{Prop: prop, Op: OpEq, Value: v} }
func Ne(prop string, v any) Expr { return Compare{Prop: prop, Op: OpNe, Value: v} }
func Lt(prop string, v any) Expr { return Compare{Prop: prop, Op: OpLt, Value: v} }
func Le(prop string, v any) Expr { return Compare{Prop: prop, Op: OpLe, Value: v} }
func Gt(prop string, v any) Expr { return Compare{Prop: prop, Op: OpGt, Value: v} }
func Ge(prop string, v any) Expr { return Compare{Prop: prop, Op: OpGe, Value: v} }

// And conjoins xs, skipping nil entries.
func And(xs ...Expr) Expr { return logical(true, xs) }

// Or disjoins xs, skipping nil entries.
func Or(xs ...Expr) Expr { return logical(false, xs) }

func Not(x Expr) Expr { return Negate{X: x} }

func IsNull(prop string) Expr  { return Null{Prop: prop, Is: true} }
func NotNull(prop string) Expr { return Null{Prop: prop} }

func In(prop string, vs ...any) Expr { return Within{Prop: prop, Values: vs} }

// Has matches through a navigation.
func Has(nav string, where Expr) Expr { return Related{Nav: nav, Where: where} }

// P references a compiled query parameter.
func P(name string) Param { return Param(name) }

func logical(and bool, xs []Expr) Expr {
	var args []Expr
	for _, x := range xs {
		if x != nil {
			args = append(args, x)
		}
	}
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return Logical{And: and, Args: args}
}

// params collects the parameter names referenced by x.
func params(x Expr, into map[string]bool) {
	switch e := x.(type) {
	case Compare:
		if p, ok := e.Value.(Param); ok {
			into[string(p)] = true
		}
	case Within:
		for _, v := range e.Values {
			if p, ok := v.(Param); ok {
				into[string(p)] = true
			}
		}
	case Logical:
		for _, a := range e.Args {
			params(a, into)
		}
	case Negate:
		params(e.X, into)
	case Related:
		params(e.Where, into)
	}
}
