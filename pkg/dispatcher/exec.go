package dispatcher

import (
	"fmt"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/otterbrix/kernel/pkg/udf"
)

// handleAggregate pulls the matched rows once and folds every AggSpec
// over them, grouped by GroupBy when set. Built-in folds (count, sum,
// min, max, avg) run inline; any other Func name is resolved through the
// UDF registry's aggregate kernels, so a caller-registered kernel and a
// built-in are invoked through the same plan shape.
func (d *Dispatcher) handleAggregate(n Aggregate) (*Cursor, error) {
	tbl, meta, err := d.getTable(n.Database, n.Collection)
	if err != nil {
		return nil, err
	}
	if len(n.Aggs) == 0 {
		return nil, kerrors.New(kerrors.CREATE_PHYSICAL_PLAN_ERROR, "aggregate with no aggregate functions")
	}
	groupIdx := -1
	if n.GroupBy != "" {
		if groupIdx = meta.Schema.IndexOf(n.GroupBy); groupIdx < 0 {
			return nil, kerrors.New(kerrors.CREATE_PHYSICAL_PLAN_ERROR, "unknown GROUP BY column "+n.GroupBy)
		}
	}
	colIdxs := make([]int, len(n.Aggs))
	for i, spec := range n.Aggs {
		colIdxs[i] = -1
		if spec.Column != "" {
			if colIdxs[i] = meta.Schema.IndexOf(spec.Column); colIdxs[i] < 0 {
				return nil, kerrors.New(kerrors.CREATE_PHYSICAL_PLAN_ERROR, "unknown aggregate column "+spec.Column)
			}
		}
	}

	tx := d.beginTxn()
	rows := d.scanMatching(tbl, meta, tx, n.Predicate)

	groups := make(map[string]*groupAcc)
	var order []string
	for _, r := range rows {
		key := ""
		var keyValue types.LogicalValue
		if groupIdx >= 0 {
			keyValue = r.Values[groupIdx]
			key = groupKey(keyValue)
		}
		acc, ok := groups[key]
		if !ok {
			acc, err = newGroupAcc(d.udfs, meta.Schema, n.Aggs, colIdxs, keyValue)
			if err != nil {
				d.finishTxn(tx)
				return nil, err
			}
			groups[key] = acc
			order = append(order, key)
		}
		acc.consume(r.Values)
	}
	if groupIdx < 0 && len(groups) == 0 {
		// Aggregating an empty input still yields one row (COUNT = 0 etc).
		acc, err := newGroupAcc(d.udfs, meta.Schema, n.Aggs, colIdxs, types.Null())
		if err != nil {
			d.finishTxn(tx)
			return nil, err
		}
		groups[""] = acc
		order = append(order, "")
	}

	out := make([]Row, 0, len(order))
	for _, key := range order {
		acc := groups[key]
		values := make([]types.LogicalValue, 0, len(n.Aggs)+1)
		if groupIdx >= 0 {
			values = append(values, acc.key)
		}
		values = append(values, acc.finalize()...)
		out = append(out, Row{Values: values})
	}
	d.finishTxn(tx)
	return newCursor(tx, out, nil), nil
}

// groupKey builds a collision-safe map key for a group value: the kind
// tag disambiguates values whose String renderings collide (1 vs "1").
func groupKey(v types.LogicalValue) string {
	return fmt.Sprintf("%d|%s", v.Kind, v.String())
}

// aggFold is one aggregate's per-group accumulator.
type aggFold struct {
	spec   AggSpec
	colIdx int

	count   int64
	sumInt  int64
	sumF    float64
	sawF    bool
	best    types.LogicalValue // min/max running value
	hasBest bool
	seen    map[string]struct{} // distinct tracking, nil unless Distinct

	kernel *udf.AggregateKernel // non-nil for UDF-backed folds
	state  udf.AggState
}

type groupAcc struct {
	key   types.LogicalValue
	folds []*aggFold
}

func newGroupAcc(udfs *udf.Registry, schema *types.Schema, aggs []AggSpec, colIdxs []int, key types.LogicalValue) (*groupAcc, error) {
	acc := &groupAcc{key: key}
	for i, spec := range aggs {
		f := &aggFold{spec: spec, colIdx: colIdxs[i]}
		if spec.Distinct {
			f.seen = make(map[string]struct{})
		}
		switch spec.Func {
		case "count", "sum", "min", "max", "avg":
		default:
			kind := types.KindNull
			if f.colIdx >= 0 {
				kind = schema.Columns[f.colIdx].Type.Kind()
			}
			kernel, err := udfs.LookupAggregate(spec.Func, []types.Kind{kind})
			if err != nil {
				return nil, err
			}
			f.kernel = kernel
			f.state = kernel.Init()
		}
		acc.folds = append(acc.folds, f)
	}
	return acc, nil
}

func (a *groupAcc) consume(row []types.LogicalValue) {
	for _, f := range a.folds {
		var v types.LogicalValue
		if f.colIdx >= 0 {
			v = row[f.colIdx]
		}
		if f.colIdx >= 0 && v.IsNull() {
			continue // SQL aggregates skip NULL inputs
		}
		if f.seen != nil {
			k := groupKey(v)
			if _, dup := f.seen[k]; dup {
				continue
			}
			f.seen[k] = struct{}{}
		}
		if f.kernel != nil {
			f.state = f.kernel.ConsumeBatch(f.state, []types.LogicalValue{v})
			continue
		}
		f.count++
		switch f.spec.Func {
		case "sum", "avg":
			if v.Kind == types.KindDouble {
				f.sumF += v.Float
				f.sawF = true
			} else {
				f.sumInt += v.Int
			}
		case "min":
			if !f.hasBest || v.Compare(f.best) < 0 {
				f.best, f.hasBest = v, true
			}
		case "max":
			if !f.hasBest || v.Compare(f.best) > 0 {
				f.best, f.hasBest = v, true
			}
		}
	}
}

func (a *groupAcc) finalize() []types.LogicalValue {
	out := make([]types.LogicalValue, 0, len(a.folds))
	for _, f := range a.folds {
		if f.kernel != nil {
			out = append(out, f.kernel.Finalize(f.state))
			continue
		}
		switch f.spec.Func {
		case "count":
			out = append(out, types.Bigint(f.count))
		case "sum":
			if f.count == 0 {
				out = append(out, types.Null())
			} else if f.sawF {
				out = append(out, types.Double(f.sumF+float64(f.sumInt)))
			} else {
				out = append(out, types.Bigint(f.sumInt))
			}
		case "avg":
			if f.count == 0 {
				out = append(out, types.Null())
			} else {
				out = append(out, types.Double((f.sumF+float64(f.sumInt))/float64(f.count)))
			}
		case "min", "max":
			if !f.hasBest {
				out = append(out, types.Null())
			} else {
				out = append(out, f.best)
			}
		default:
			out = append(out, types.Null())
		}
	}
	return out
}

// handleJoin materializes both sides under one snapshot and runs a
// nested-loop equi-join (hash-bucketed on the right side), padding the
// unmatched side of an outer join with NULLs.
func (d *Dispatcher) handleJoin(n Join) (*Cursor, error) {
	leftTbl, leftMeta, err := d.getTable(n.Left.Database, n.Left.Collection)
	if err != nil {
		return nil, err
	}
	rightTbl, rightMeta, err := d.getTable(n.Right.Database, n.Right.Collection)
	if err != nil {
		return nil, err
	}
	leftWidth := len(leftMeta.Schema.Columns)
	rightWidth := len(rightMeta.Schema.Columns)

	leftIdx, rightIdx := -1, -1
	if n.Kind != JoinCross {
		if leftIdx = leftMeta.Schema.IndexOf(n.LeftColumn); leftIdx < 0 {
			return nil, kerrors.New(kerrors.CREATE_PHYSICAL_PLAN_ERROR, "unknown join column "+n.LeftColumn)
		}
		if rightIdx = rightMeta.Schema.IndexOf(n.RightColumn); rightIdx < 0 {
			return nil, kerrors.New(kerrors.CREATE_PHYSICAL_PLAN_ERROR, "unknown join column "+n.RightColumn)
		}
	}

	tx := d.beginTxn()
	leftRows := d.scanMatching(leftTbl, leftMeta, tx, n.Left.Predicate)
	rightRows := d.scanMatching(rightTbl, rightMeta, tx, n.Right.Predicate)
	d.finishTxn(tx)

	var out []Row
	if n.Kind == JoinCross {
		for _, l := range leftRows {
			for _, r := range rightRows {
				out = append(out, joinRow(l.Values, r.Values))
			}
		}
		return newCursor(tx, out, nil), nil
	}

	buckets := make(map[string][]int, len(rightRows))
	for i, r := range rightRows {
		v := r.Values[rightIdx]
		if v.IsNull() {
			continue // NULL never equi-matches
		}
		k := groupKey(v)
		buckets[k] = append(buckets[k], i)
	}

	rightMatched := make([]bool, len(rightRows))
	for _, l := range leftRows {
		v := l.Values[leftIdx]
		var matches []int
		if !v.IsNull() {
			matches = buckets[groupKey(v)]
		}
		if len(matches) == 0 {
			if n.Kind == JoinLeft || n.Kind == JoinFull {
				out = append(out, joinRow(l.Values, nullRow(rightWidth)))
			}
			continue
		}
		for _, ri := range matches {
			rightMatched[ri] = true
			out = append(out, joinRow(l.Values, rightRows[ri].Values))
		}
	}
	if n.Kind == JoinRight || n.Kind == JoinFull {
		for i, r := range rightRows {
			if !rightMatched[i] {
				out = append(out, joinRow(nullRow(leftWidth), r.Values))
			}
		}
	}
	return newCursor(tx, out, nil), nil
}

func joinRow(left, right []types.LogicalValue) Row {
	values := make([]types.LogicalValue, 0, len(left)+len(right))
	values = append(values, left...)
	values = append(values, right...)
	return Row{Values: values}
}

func nullRow(width int) []types.LogicalValue {
	row := make([]types.LogicalValue, width)
	for i := range row {
		row[i] = types.Null()
	}
	return row
}
