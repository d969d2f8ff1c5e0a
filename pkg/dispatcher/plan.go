// Plan nodes accepted by the dispatcher. The SQL parser, binder, and
// physical-plan builder that would produce these trees live above this
// kernel; callers hand the logical-plan tree in directly.
package dispatcher

import "github.com/otterbrix/kernel/pkg/types"

// Operator is a predicate comparison operator, reused from the index
// package's ScanOperator vocabulary at the plan-node boundary.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpLessThan
	OpLessOrEqual
	OpGreaterThan
	OpGreaterOrEqual
)

// Predicate is a single-column comparison, the only predicate shape this
// kernel's own execution needs to understand. AND/OR/complex expression
// trees belong to the expression evaluator layered above; a caller that
// needs compound predicates chains nodes or pre-filters in its own match
// step.
type Predicate struct {
	Column string
	Op     Operator
	Value  types.LogicalValue
}

// SortKey is one ORDER BY term.
type SortKey struct {
	Column string
	Desc   bool
}

// Node is the logical-plan tree interface: create/drop database,
// create/drop collection, create/drop index, insert, select (match with
// sort/limit), aggregate, join, delete, update, checkpoint, vacuum.
// Aggregate and join run through the dispatcher's own minimal evaluator
// rather than an external expression engine.
type Node interface {
	node()
}

type CreateDatabase struct{ Database string }
type DropDatabase struct{ Database string }

type CreateCollection struct {
	Database string
	Name     string
	Schema   *types.Schema
	Disk     bool
	Defaults map[string]types.LogicalValue
}

type DropCollection struct {
	Database string
	Name     string
}

type CreateIndex struct {
	Database   string
	Collection string
	Name       string
	Column     string
	Unique     bool
}

type DropIndex struct {
	Database   string
	Collection string
	Name       string
}

// Insert carries rows already bound (NOT NULL/DEFAULT substitution
// already applied by the catalog's BindRow) as row-major rows: one slice
// per row, in schema column order.
type Insert struct {
	Database   string
	Collection string
	Rows       [][]types.LogicalValue
}

type Delete struct {
	Database   string
	Collection string
	Predicate  *Predicate // nil means delete every row
	Limit      int        // 0 means unlimited
}

type Update struct {
	Database   string
	Collection string
	Predicate  *Predicate
	Set        map[string]types.LogicalValue
	Limit      int
}

type Select struct {
	Database   string
	Collection string
	Predicate  *Predicate
	OrderBy    []SortKey
	Limit      int
}

// AggSpec names one aggregate to compute over the matched rows: a
// built-in (count, sum, min, max, avg) or any aggregate kernel
// registered in the UDF registry under Func's name.
type AggSpec struct {
	Func     string
	Column   string // "" means COUNT(*): count rows, not values
	Distinct bool
}

// Aggregate computes Aggs over the rows matching Predicate, optionally
// partitioned by GroupBy. Each result row is the group key (when GroupBy
// is set) followed by one value per AggSpec, in declaration order.
type Aggregate struct {
	Database   string
	Collection string
	Predicate  *Predicate
	GroupBy    string
	Aggs       []AggSpec
}

// JoinKind selects the join flavor.
type JoinKind int

const (
	JoinInner JoinKind = iota
	JoinLeft
	JoinRight
	JoinFull
	JoinCross
)

// JoinSide names one input collection of a Join plus an optional
// pushed-down predicate evaluated before the join itself.
type JoinSide struct {
	Database   string
	Collection string
	Predicate  *Predicate
}

// Join combines two collections on an equality between LeftColumn and
// RightColumn (ignored for JoinCross). Result rows are the left row's
// values followed by the right row's, with the unmatched side of an
// outer join padded with NULLs.
type Join struct {
	Kind        JoinKind
	Left        JoinSide
	Right       JoinSide
	LeftColumn  string
	RightColumn string
}

type Checkpoint struct {
	Database   string
	Collection string // empty means every disk-backed collection of Database (of every database when Database is empty too)
}

type Vacuum struct {
	Database   string
	Collection string
}

func (CreateDatabase) node()   {}
func (DropDatabase) node()     {}
func (CreateCollection) node() {}
func (DropCollection) node()   {}
func (CreateIndex) node()      {}
func (DropIndex) node()        {}
func (Insert) node()           {}
func (Delete) node()           {}
func (Update) node()           {}
func (Select) node()           {}
func (Aggregate) node()        {}
func (Join) node()             {}
func (Checkpoint) node()       {}
func (Vacuum) node()           {}
