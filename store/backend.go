package store

import "context"

// ColumnRef names a column and its storage type.
type ColumnRef struct {
	Name string
	Type ColumnType
}

// Cond is a predicate over storage columns, produced by binding an Expr.
type Cond interface {
	isCond()
}

// ColumnCompare compares a column with a storage value. Fold compares text
// case-insensitively.
type ColumnCompare struct {
	Column string
	Op     Op
	Value  any
	Fold   bool
}

// ColumnIn tests membership; an empty list matches nothing.
type ColumnIn struct {
	Column string
	Values []any
	Fold   bool
}

// ColumnNull tests for NULL (Null) or NOT NULL.
type ColumnNull struct {
	Column string
	Null   bool
}

// AllOf is a conjunction; empty matches everything.
type AllOf []Cond

// AnyOf is a disjunction; empty matches nothing.
type AnyOf []Cond

// NotCond inverts Cond.
type NotCond struct {
	Cond Cond
}

func (ColumnCompare) isCond() {}
func (ColumnIn) isCond()      {}
func (ColumnNull) isCond()    {}
func (AllOf) isCond()         {}
func (AnyOf) isCond()         {}
func (NotCond) isCond()       {}

// Order sorts by a column.
type Order struct {
	Column string
	Desc   bool
}

// Select reads rows of one table.
type Select struct {
	Table   string
	Columns []ColumnRef
	Where   Cond
	OrderBy []Order
	Limit   int
	Offset  int
}

// WriteOp is the kind of row write.
type WriteOp int

const (
	OpInsert WriteOp = iota + 1
	OpUpdate
	OpDelete
)

func (o WriteOp) String() string {
	switch o {
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// ColumnValue is one column assignment.
type ColumnValue struct {
	Column string
	Type   ColumnType
	Value  any
	Fold   bool
}

// NamedArg is one routine argument.
type NamedArg struct {
	Name  string
	Value any
}

// RoutineCall invokes a bound stored routine in place of a statement.
type RoutineCall struct {
	Name    string
	Args    []NamedArg
	Results []ColumnRef
}

// Check is a reference rule the backend enforces inside the write transaction.
// With Exists a row whose Column equals Value must exist in one of Tables;
// without it no such row may exist.
type Check struct {
	Tables []string
	Column string
	Value  any
	Exists bool
	Reason string
}

// Write is one row write with its concurrency precondition.
type Write struct {
	Op        WriteOp
	Kind      string
	Table     string
	KeyColumn string
	Key       any
	// Match holds the remaining parts of a composite key; the row must
	// match every one of them as well as KeyColumn.
	Match  []ColumnValue
	Values []ColumnValue
	// TokenColumn is refreshed on every insert and update; on update and
	// delete the row must still carry Expected.
	TokenColumn string
	Expected    Token
	Routine     *RoutineCall
	Checks      []Check
}

// FullKey returns Key, or the whole composite key when Match is set.
func (w Write) FullKey() any {
	if len(w.Match) == 0 {
		return w.Key
	}
	k := CompositeKey{w.Key}
	for _, m := range w.Match {
		k = append(k, m.Value)
	}
	return k
}

// WriteResult reports the outcome of one Write. Zero Affected on an update
// or delete means the precondition failed.
type WriteResult struct {
	Affected int64
	Token    Token
	Returned Row
}

// Batch is the ordered write set of one flush. Atomic asks the backend not
// to apply any write when one of them conflicts.
type Batch struct {
	Writes []Write
	Atomic bool
}

// Capabilities describes what a backend enforces itself.
type Capabilities struct {
	// Scopes allows several flushes in one transaction.
	Scopes bool
	// Routines allows bound stored routines.
	Routines bool
	// ForeignKeys means the backend enforces declared references; otherwise
	// the engine adds reference Checks to every write.
	ForeignKeys bool
}

// Executor reads rows and draws sequence values.
type Executor interface {
	Select(ctx context.Context, q Select) ([]Row, error)
	Count(ctx context.Context, table string, where Cond) (int64, error)
	NextValue(ctx context.Context, sequence string) (int64, error)
}

// Backend is a transactional store the engine persists to.
type Backend interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
	Capabilities() Capabilities
}

// Tx is one backend transaction.
type Tx interface {
	Executor
	Apply(ctx context.Context, b Batch) ([]WriteResult, error)
	Commit() error
	Rollback() error
}
