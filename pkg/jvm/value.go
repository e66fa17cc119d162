package jvm

import "fmt"

// ValueType is the computational type of a Value. boolean, byte, char and
// short travel as TypeInt, the way the JVM operand stack treats them.
type ValueType uint8

const (
	TypeInt ValueType = iota
	TypeLong
	TypeFloat
	TypeDouble
	TypeRef
	TypeNull
	TypeVoid
)

func (t ValueType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDouble:
		return "double"
	case TypeRef:
		return "reference"
	case TypeNull:
		return "null"
	case TypeVoid:
		return "void"
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// category2 reports whether the type occupies two local/stack slots.
func (t ValueType) category2() bool {
	return t == TypeLong || t == TypeDouble
}

// Value is a value on the operand stack, in a local variable or in a field.
type Value struct {
	Type  ValueType
	Int   int64
	Float float64
	Ref   *Object
}

// IntValue creates an int Value.
func IntValue(v int32) Value {
	return Value{Type: TypeInt, Int: int64(v)}
}

// LongValue creates a long Value.
func LongValue(v int64) Value {
	return Value{Type: TypeLong, Int: v}
}

// FloatValue creates a float Value.
func FloatValue(v float32) Value {
	return Value{Type: TypeFloat, Float: float64(v)}
}

// DoubleValue creates a double Value.
func DoubleValue(v float64) Value {
	return Value{Type: TypeDouble, Float: v}
}

// BoolValue creates a boolean Value (an int of 0 or 1).
func BoolValue(v bool) Value {
	if v {
		return IntValue(1)
	}
	return IntValue(0)
}

// RefValue creates a reference Value; a nil object yields null.
func RefValue(obj *Object) Value {
	if obj == nil {
		return NullValue()
	}
	return Value{Type: TypeRef, Ref: obj}
}

// NullValue creates a null reference Value.
func NullValue() Value {
	return Value{Type: TypeNull}
}

// VoidValue is returned by methods declared void.
func VoidValue() Value {
	return Value{Type: TypeVoid}
}

// I32 returns the value as a Java int.
func (v Value) I32() int32 { return int32(v.Int) }

// F32 returns the value as a Java float.
func (v Value) F32() float32 { return float32(v.Float) }

// Bool returns the value as a Java boolean.
func (v Value) Bool() bool { return int32(v.Int) != 0 }

// IsNull reports whether the value is a null reference.
func (v Value) IsNull() bool {
	return v.Type == TypeNull || (v.Type == TypeRef && v.Ref == nil)
}

// ZeroValue returns the default value for a field or array element of the given type.
func ZeroValue(typeName string) Value {
	switch typeName {
	case "boolean", "byte", "char", "short", "int":
		return IntValue(0)
	case "long":
		return LongValue(0)
	case "float":
		return FloatValue(0)
	case "double":
		return DoubleValue(0)
	case "void":
		return VoidValue()
	}
	return NullValue()
}

// coerce narrows or checks a value for storage into a slot of the given type.
func coerce(typeName string, v Value) (Value, error) {
	switch typeName {
	case "boolean":
		return expect(v, TypeInt, IntValue(int32(v.Int)&1))
	case "byte":
		return expect(v, TypeInt, IntValue(int32(int8(v.Int))))
	case "char":
		return expect(v, TypeInt, IntValue(int32(uint16(v.Int))))
	case "short":
		return expect(v, TypeInt, IntValue(int32(int16(v.Int))))
	case "int":
		return expect(v, TypeInt, IntValue(int32(v.Int)))
	case "long":
		return expect(v, TypeLong, v)
	case "float":
		return expect(v, TypeFloat, FloatValue(float32(v.Float)))
	case "double":
		return expect(v, TypeDouble, v)
	}
	if v.IsNull() {
		return NullValue(), nil
	}
	if v.Type != TypeRef {
		return Value{}, fmt.Errorf("expected reference for %s, got %s", typeName, v.Type)
	}
	return v, nil
}

func expect(v Value, t ValueType, out Value) (Value, error) {
	if v.Type != t {
		return Value{}, fmt.Errorf("expected %s, got %s", t, v.Type)
	}
	return out, nil
}

// Ref is an opaque handle to a managed object, valid only through an Env.
// Local references belong to one Env frame; global references live in the
// runtime until released. The zero Ref is null.
type Ref uint64

const globalRefBit Ref = 1 << 63

// IsGlobal reports whether r is a global reference.
func (r Ref) IsGlobal() bool { return r&globalRefBit != 0 }

// JValue is the boundary form of a Value: objects are carried as Refs.
type JValue struct {
	Type  ValueType
	Int   int64
	Float float64
	L     Ref
}

// JInt creates an int JValue; JBoolean, JByte, JChar and JShort travel the same way.
func JInt(v int32) JValue { return JValue{Type: TypeInt, Int: int64(v)} }

// JBoolean creates a boolean JValue.
func JBoolean(v bool) JValue {
	if v {
		return JInt(1)
	}
	return JInt(0)
}

// JLong creates a long JValue.
func JLong(v int64) JValue { return JValue{Type: TypeLong, Int: v} }

// JFloat creates a float JValue.
func JFloat(v float32) JValue { return JValue{Type: TypeFloat, Float: float64(v)} }

// JDouble creates a double JValue.
func JDouble(v float64) JValue { return JValue{Type: TypeDouble, Float: v} }

// JObject creates a reference JValue; the zero Ref is null.
func JObject(r Ref) JValue {
	if r == 0 {
		return JValue{Type: TypeNull}
	}
	return JValue{Type: TypeRef, L: r}
}
