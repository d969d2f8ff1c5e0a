package udf

import (
	"testing"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestBuiltinRowKernels(t *testing.T) {
	r := New()

	fn, err := r.LookupRow("abs", []types.LogicalValue{types.Bigint(-5)})
	require.NoError(t, err)
	out, err := fn([]types.LogicalValue{types.Bigint(-5)})
	require.NoError(t, err)
	require.Equal(t, int64(5), out.Int)

	fn, err = r.LookupRow("concat", []types.LogicalValue{types.String("a"), types.String("b")})
	require.NoError(t, err)
	out, err = fn([]types.LogicalValue{types.String("a"), types.String("b")})
	require.NoError(t, err)
	require.Equal(t, "ab", out.Str)
}

func TestLookupRowUnrecognizedFunction(t *testing.T) {
	r := New()
	_, err := r.LookupRow("nope", []types.LogicalValue{types.Bigint(1)})
	require.Equal(t, kerrors.UNRECOGNIZED_FUNCTION, kerrors.CodeOf(err))
}

func TestLookupRowIncorrectArgument(t *testing.T) {
	r := New()
	_, err := r.LookupRow("abs", []types.LogicalValue{types.String("x")})
	require.Equal(t, kerrors.INCORRECT_FUNCTION_ARGUMENT, kerrors.CodeOf(err))
}

func TestBuiltinAggregateCount(t *testing.T) {
	r := New()
	k, err := r.LookupAggregate("count", []types.Kind{types.KindBigint})
	require.NoError(t, err)

	state := k.Init()
	state = k.ConsumeBatch(state, []types.LogicalValue{types.Bigint(1)})
	state = k.ConsumeBatch(state, []types.LogicalValue{types.Bigint(2)})
	other := k.Init()
	other = k.ConsumeBatch(other, []types.LogicalValue{types.Bigint(3)})
	merged := k.MergeState(state, other)

	require.Equal(t, int64(3), k.Finalize(merged).Int)
}

func TestRegisterRowOverridesSignature(t *testing.T) {
	r := New()
	r.RegisterRow("double", []types.Kind{types.KindBigint}, func(args []types.LogicalValue) (types.LogicalValue, error) {
		return types.Bigint(args[0].Int * 2), nil
	})
	fn, err := r.LookupRow("double", []types.LogicalValue{types.Bigint(4)})
	require.NoError(t, err)
	out, _ := fn([]types.LogicalValue{types.Bigint(4)})
	require.Equal(t, int64(8), out.Int)
}
