package catalog

import (
	"fmt"

	kerrors "github.com/otterbrix/kernel/pkg/errors"
	"github.com/otterbrix/kernel/pkg/types"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// ParseDefaultLiteral decodes a JSON literal into a LogicalValue
// matching colType, via the bson extended-JSON parser. A column's
// DEFAULT expression is a literal in this kernel, decoded once at
// CREATE TABLE time and substituted at INSERT bind time for any column
// omitted from the VALUES list; the general expression evaluator lives
// above this kernel.
func ParseDefaultLiteral(jsonLiteral string, colType types.ColumnType) (types.LogicalValue, error) {
	wrapped := fmt.Sprintf(`{"v": %s}`, jsonLiteral)
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(wrapped), false, &doc); err != nil {
		return types.LogicalValue{}, kerrors.Wrap(kerrors.OTHER_ERROR, err, "parse default literal")
	}
	if len(doc) == 0 {
		return types.LogicalValue{}, kerrors.New(kerrors.OTHER_ERROR, "empty default literal")
	}
	return bsonToLogicalValue(doc[0].Value, colType)
}

func bsonToLogicalValue(raw interface{}, colType types.ColumnType) (types.LogicalValue, error) {
	switch v := raw.(type) {
	case nil:
		return types.Null(), nil
	case bool:
		return types.Boolean(v), nil
	case int32:
		return types.Bigint(int64(v)), nil
	case int64:
		return types.Bigint(v), nil
	case int:
		return types.Bigint(int64(v)), nil
	case float64:
		if colType == types.ColumnBigint {
			return types.Bigint(int64(v)), nil
		}
		return types.Double(v), nil
	case string:
		if colType == types.ColumnEnum {
			return types.Enum(v), nil
		}
		return types.String(v), nil
	default:
		return types.LogicalValue{}, kerrors.New(kerrors.OTHER_ERROR, fmt.Sprintf("unsupported default literal type %T", raw))
	}
}
