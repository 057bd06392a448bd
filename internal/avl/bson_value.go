package avl

import (
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// MarshalBSONValue stores numeric IO values as int64 (BSON has no uint64)
// and variable-length payloads as strings, mirroring the JSON shape.
func (v IOValue) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if v.IsString {
		return bsontype.String, bsoncore.AppendString(nil, v.Str), nil
	}
	if v.Num > 1<<63-1 {
		return bsontype.String, bsoncore.AppendString(nil, strconv.FormatUint(v.Num, 10)), nil
	}
	return bsontype.Int64, bsoncore.AppendInt64(nil, int64(v.Num)), nil
}

// UnmarshalBSONValue implements bson.ValueUnmarshaler.
func (v *IOValue) UnmarshalBSONValue(bt bsontype.Type, data []byte) error {
	switch bt {
	case bsontype.String:
		s, _, ok := bsoncore.ReadString(data)
		if !ok {
			return fmt.Errorf("malformed bson string")
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil && n > maxSafeInteger {
			*v = NumValue(n)
			return nil
		}
		*v = StrValue(s)
		return nil
	case bsontype.Int64:
		n, _, ok := bsoncore.ReadInt64(data)
		if !ok {
			return fmt.Errorf("malformed bson int64")
		}
		*v = NumValue(uint64(n))
		return nil
	case bsontype.Int32:
		n, _, ok := bsoncore.ReadInt32(data)
		if !ok {
			return fmt.Errorf("malformed bson int32")
		}
		*v = NumValue(uint64(n))
		return nil
	case bsontype.Double:
		f, _, ok := bsoncore.ReadDouble(data)
		if !ok {
			return fmt.Errorf("malformed bson double")
		}
		*v = NumValue(uint64(f))
		return nil
	default:
		return fmt.Errorf("cannot decode %v into an io value", bt)
	}
}
