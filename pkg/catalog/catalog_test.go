package catalog

import (
	"testing"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
	"github.com/stretchr/testify/require"
)

func schema() *types.Schema {
	return &types.Schema{Columns: []types.ColumnDef{
		{Name: "a", Type: types.ColumnBigint},
		{Name: "b", Type: types.ColumnString, Nullable: true},
	}}
}

func TestCreateDropDatabase(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("db"))
	require.True(t, c.HasDatabase("db"))

	err := c.CreateDatabase("db")
	require.Equal(t, kerrors.DATABASE_ALREADY_EXISTS, kerrors.CodeOf(err))

	require.NoError(t, c.DropDatabase("db"))
	require.False(t, c.HasDatabase("db"))

	err = c.DropDatabase("db")
	require.Equal(t, kerrors.DATABASE_NOT_EXISTS, kerrors.CodeOf(err))
}

func TestCreateCollectionRequiresDatabase(t *testing.T) {
	c := New()
	err := c.CreateCollection("db", "t", schema(), MemoryResident)
	require.Equal(t, kerrors.DATABASE_NOT_EXISTS, kerrors.CodeOf(err))

	require.NoError(t, c.CreateDatabase("db"))
	require.NoError(t, c.CreateCollection("db", "t", schema(), MemoryResident))

	err = c.CreateCollection("db", "t", schema(), MemoryResident)
	require.Equal(t, kerrors.COLLECTION_ALREADY_EXISTS, kerrors.CodeOf(err))
}

func TestIndexLifecycle(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("db"))
	require.NoError(t, c.CreateCollection("db", "t", schema(), DiskBacked))

	require.NoError(t, c.CreateIndex("db", "t", "idx_a", "a", true))
	meta, err := c.Collection("db", "t")
	require.NoError(t, err)
	require.Contains(t, meta.Indexes, "idx_a")
	require.True(t, meta.Indexes["idx_a"].Unique)

	require.NoError(t, c.DropIndex("db", "t", "idx_a"))
	meta, _ = c.Collection("db", "t")
	require.NotContains(t, meta.Indexes, "idx_a")
}

func TestBindRowAppliesDefaultsAndRejectsNotNull(t *testing.T) {
	c := New()
	require.NoError(t, c.CreateDatabase("db"))
	require.NoError(t, c.CreateCollection("db", "t", &types.Schema{Columns: []types.ColumnDef{
		{Name: "name", Type: types.ColumnString, Nullable: false},
		{Name: "tag", Type: types.ColumnString, Nullable: false},
	}}, MemoryResident))
	meta, err := c.Collection("db", "t")
	require.NoError(t, err)
	meta.Defaults["tag"] = types.String("pending")

	row, err := c.BindRow(meta, []string{"name"}, []types.LogicalValue{types.String("a")})
	require.NoError(t, err)
	require.Equal(t, "a", row[0].Str)
	require.Equal(t, "pending", row[1].Str)

	_, err = c.BindRow(meta, []string{"name", "tag"}, []types.LogicalValue{types.Null(), types.String("x")})
	require.Error(t, err)
}

func TestParseDefaultLiteral(t *testing.T) {
	v, err := ParseDefaultLiteral(`"pending"`, types.ColumnString)
	require.NoError(t, err)
	require.Equal(t, types.String("pending"), v)

	v, err = ParseDefaultLiteral(`42`, types.ColumnBigint)
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Int)
}
