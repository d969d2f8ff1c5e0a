package types

import (
	"testing"
)

func TestCompareSameKind(t *testing.T) {
	cases := []struct {
		name     string
		a, b     LogicalValue
		expected int
	}{
		{"bigint less", Bigint(5), Bigint(10), -1},
		{"bigint greater", Bigint(10), Bigint(5), 1},
		{"bigint equal", Bigint(10), Bigint(10), 0},
		{"bigint negative", Bigint(-5), Bigint(5), -1},
		{"double less", Double(1.5), Double(2.5), -1},
		{"double greater", Double(3.14), Double(2.71), 1},
		{"double equal", Double(3.14), Double(3.14), 0},
		{"string less", String("apple"), String("banana"), -1},
		{"string greater", String("cherry"), String("banana"), 1},
		{"string equal", String("test"), String("test"), 0},
		{"string case sensitive", String("Apple"), String("apple"), -1},
		{"string empty", String(""), String("a"), -1},
		{"bool false < true", Boolean(false), Boolean(true), -1},
		{"bool true > false", Boolean(true), Boolean(false), 1},
		{"bool equal", Boolean(true), Boolean(true), 0},
		{"null equal", Null(), Null(), 0},
		{"enum order", Enum("a"), Enum("b"), -1},
	}
	for _, tc := range cases {
		if got := tc.a.Compare(tc.b); got != tc.expected {
			t.Errorf("%s: Compare = %d, want %d", tc.name, got, tc.expected)
		}
	}
}

func TestCompareAcrossKindsUsesKindOrdinal(t *testing.T) {
	if got := Null().Compare(Bigint(0)); got != -1 {
		t.Errorf("NULL must sort below every value, got %d", got)
	}
	if got := Bigint(1).Compare(String("1")); got != -1 {
		t.Errorf("BIGINT sorts below STRING by kind ordinal, got %d", got)
	}
}

func TestCompareFixedArrayLexicographic(t *testing.T) {
	a := FixedArray([]LogicalValue{Bigint(1), Bigint(2)})
	b := FixedArray([]LogicalValue{Bigint(1), Bigint(3)})
	shorter := FixedArray([]LogicalValue{Bigint(1)})

	if got := a.Compare(b); got != -1 {
		t.Errorf("[1,2] < [1,3], got %d", got)
	}
	if got := shorter.Compare(a); got != -1 {
		t.Errorf("prefix sorts first, got %d", got)
	}
	if got := a.Compare(a); got != 0 {
		t.Errorf("equal arrays, got %d", got)
	}
}

func TestColumnTypeKindMapping(t *testing.T) {
	cases := []struct {
		col  ColumnType
		kind Kind
	}{
		{ColumnBoolean, KindBoolean},
		{ColumnBigint, KindBigint},
		{ColumnDouble, KindDouble},
		{ColumnString, KindString},
		{ColumnFixedArray, KindFixedArray},
		{ColumnStruct, KindStruct},
		{ColumnEnum, KindEnum},
	}
	for _, tc := range cases {
		if got := tc.col.Kind(); got != tc.kind {
			t.Errorf("%v.Kind() = %v, want %v", tc.col, got, tc.kind)
		}
	}
}

func TestSchemaIndexOfAndClone(t *testing.T) {
	s := &Schema{Columns: []ColumnDef{
		{Name: "a", Type: ColumnBigint},
		{Name: "b", Type: ColumnString, Nullable: true},
	}}
	if got := s.IndexOf("b"); got != 1 {
		t.Errorf("IndexOf(b) = %d, want 1", got)
	}
	if got := s.IndexOf("missing"); got != -1 {
		t.Errorf("IndexOf(missing) = %d, want -1", got)
	}
	clone := s.Clone()
	clone.Columns[0].Name = "renamed"
	if s.Columns[0].Name != "a" {
		t.Error("Clone must not alias the original column slice")
	}
}
