// Package udf implements the process-wide user-defined function registry:
// row kernels and aggregate kernels, looked up by
// (function_name, arg_type_signature).
package udf

import (
	"fmt"
	"strings"
	"sync"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
)

// RowKernel computes a stateless row function: (input_values) -> output.
type RowKernel func(args []types.LogicalValue) (types.LogicalValue, error)

// AggState is an opaque per-group accumulator an aggregate kernel owns.
type AggState interface{}

// AggregateKernel is the four-callback aggregate contract: per-group
// state initialized once, fed row by row, mergeable, finalized to one
// value.
type AggregateKernel struct {
	Init         func() AggState
	ConsumeBatch func(state AggState, args []types.LogicalValue) AggState
	MergeState   func(a, b AggState) AggState
	Finalize     func(state AggState) types.LogicalValue
}

func signature(name string, argTypes []types.Kind) string {
	var b strings.Builder
	b.WriteString(name)
	for _, k := range argTypes {
		b.WriteByte('/')
		b.WriteString(k.String())
	}
	return b.String()
}

// Registry is the process-wide (function_name, arg_type_signature) ->
// kernel table.
type Registry struct {
	mu         sync.RWMutex
	rowKernels map[string]RowKernel
	aggKernels map[string]*AggregateKernel
}

func New() *Registry {
	r := &Registry{
		rowKernels: make(map[string]RowKernel),
		aggKernels: make(map[string]*AggregateKernel),
	}
	r.registerBuiltins()
	return r
}

func (r *Registry) RegisterRow(name string, argTypes []types.Kind, fn RowKernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rowKernels[signature(name, argTypes)] = fn
}

func (r *Registry) RegisterAggregate(name string, argTypes []types.Kind, kernel *AggregateKernel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aggKernels[signature(name, argTypes)] = kernel
}

// LookupRow finds a row kernel for name applied to args, checking both
// the exact argument-type signature (UNRECOGNIZED_FUNCTION if the name is
// unknown at all) and returning INCORRECT_FUNCTION_ARGUMENT if the name
// is known but this particular signature is not.
func (r *Registry) LookupRow(name string, args []types.LogicalValue) (RowKernel, error) {
	argTypes := make([]types.Kind, len(args))
	for i, a := range args {
		argTypes[i] = a.Kind
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	if fn, ok := r.rowKernels[signature(name, argTypes)]; ok {
		return fn, nil
	}
	if !r.knownRowName(name) {
		return nil, kerrors.New(kerrors.UNRECOGNIZED_FUNCTION, name)
	}
	return nil, kerrors.New(kerrors.INCORRECT_FUNCTION_ARGUMENT, fmt.Sprintf("%s%v", name, argTypes))
}

func (r *Registry) LookupAggregate(name string, argTypes []types.Kind) (*AggregateKernel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.aggKernels[signature(name, argTypes)]; ok {
		return k, nil
	}
	if !r.knownAggName(name) {
		return nil, kerrors.New(kerrors.UNRECOGNIZED_FUNCTION, name)
	}
	return nil, kerrors.New(kerrors.INCORRECT_FUNCTION_ARGUMENT, fmt.Sprintf("%s%v", name, argTypes))
}

func (r *Registry) knownRowName(name string) bool {
	for sig := range r.rowKernels {
		if sig == name || strings.HasPrefix(sig, name+"/") {
			return true
		}
	}
	return false
}

func (r *Registry) knownAggName(name string) bool {
	for sig := range r.aggKernels {
		if sig == name || strings.HasPrefix(sig, name+"/") {
			return true
		}
	}
	return false
}

// registerBuiltins ships abs/concat/count as worked examples of the
// registry contract.
func (r *Registry) registerBuiltins() {
	r.rowKernels[signature("abs", []types.Kind{types.KindBigint})] = func(args []types.LogicalValue) (types.LogicalValue, error) {
		v := args[0].Int
		if v < 0 {
			v = -v
		}
		return types.Bigint(v), nil
	}
	r.rowKernels[signature("abs", []types.Kind{types.KindDouble})] = func(args []types.LogicalValue) (types.LogicalValue, error) {
		v := args[0].Float
		if v < 0 {
			v = -v
		}
		return types.Double(v), nil
	}
	r.rowKernels[signature("concat", []types.Kind{types.KindString, types.KindString})] = func(args []types.LogicalValue) (types.LogicalValue, error) {
		return types.String(args[0].Str + args[1].Str), nil
	}

	r.aggKernels[signature("count", []types.Kind{types.KindBigint})] = &AggregateKernel{
		Init: func() AggState { return int64(0) },
		ConsumeBatch: func(state AggState, args []types.LogicalValue) AggState {
			return state.(int64) + 1
		},
		MergeState: func(a, b AggState) AggState { return a.(int64) + b.(int64) },
		Finalize:   func(state AggState) types.LogicalValue { return types.Bigint(state.(int64)) },
	}
}
