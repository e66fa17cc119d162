package j4go

import (
	"fmt"
	"reflect"

	"github.com/goccy/go-json"
	"go.uber.org/multierr"

	"github.com/daimatz/j4go/pkg/jvm"
	"github.com/daimatz/j4go/pkg/native"
)

// ToGo decodes inst into a T and closes it.
func ToGo[T any](j *Jvm, inst *Instance) (T, error) {
	var out T
	err := j.Decode(inst, &out)
	return out, err
}

// Decode stores the value of inst in the value out points to and closes
// inst. Strings and boxed primitives come from the value cached when the
// Instance was created; other objects are serialized by the managed JSON
// hook and unmarshaled. Null leaves the zero value.
func (j *Jvm) Decode(inst *Instance, out any) (err error) {
	op := "decode"
	if err := inst.usable(j.b, op); err != nil {
		return err
	}
	op = "decode " + inst.className
	defer func() {
		err = multierr.Append(err, inst.Close())
	}()

	dst := reflect.ValueOf(out)
	if dst.Kind() != reflect.Pointer || dst.IsNil() {
		return newError(KindConversion, op, fmt.Sprintf("out must be a non-nil pointer, got %T", out))
	}
	elem := dst.Elem()
	switch {
	case inst.IsVoid():
		return newError(KindConversion, op, "void has no value")
	case inst.IsNull():
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	case inst.hasPayload:
		return decodePayload(op, inst.payload, elem)
	}

	env, done, err := j.env(op)
	if err != nil {
		return err
	}
	defer done()
	s, err := j.b.toJSON(env, op, inst.ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(s), out); err != nil {
		return wrapError(KindConversion, op, err)
	}
	return nil
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uint64
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// decodePayload assigns a cached scalar, converting between numeric types
// when no information is lost.
func decodePayload(op string, payload any, dst reflect.Value) error {
	pv := reflect.ValueOf(payload)
	if pv.Type().AssignableTo(dst.Type()) {
		dst.Set(pv)
		return nil
	}
	pk, dk := pv.Kind(), dst.Kind()
	switch {
	case isFloat(pk) && isFloat(dk):
		dst.Set(pv.Convert(dst.Type()))
		return nil
	case (isInteger(pk) || isFloat(pk)) && (isInteger(dk) || isFloat(dk)):
		conv := pv.Convert(dst.Type())
		negative := pv.CanInt() && pv.Int() < 0 || isFloat(pk) && pv.Float() < 0
		if conv.Convert(pv.Type()).Interface() != payload || (negative && conv.CanUint()) {
			return newError(KindConversion, op, fmt.Sprintf("%v does not fit in %s", payload, dst.Type()))
		}
		dst.Set(conv)
		return nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return wrapError(KindConversion, op, err)
	}
	if err := json.Unmarshal(b, dst.Addr().Interface()); err != nil {
		return wrapError(KindConversion, op, err)
	}
	return nil
}

// toJSON serializes the object through the managed JSON hook.
func (b *bridge) toJSON(env *jvm.Env, op string, r jvm.Ref) (string, error) {
	if err := env.PushLocalFrame(); err != nil {
		return "", runtimeError(op, err)
	}
	defer func() { _, _ = env.PopLocalFrame(0) }()
	cls, err := b.findClass(env, op, native.JSONClass)
	if err != nil {
		return "", err
	}
	m := cls.LookupMethod("toJson", "(Ljava/lang/Object;)Ljava/lang/String;")
	if m == nil {
		return "", newError(KindResolution, op, "JSON hook toJson is missing")
	}
	jv, err := env.CallStaticMethod(cls, m, jvm.JObject(r))
	if err := b.check(env, op, err); err != nil {
		return "", err
	}
	if jv.Type != jvm.TypeRef {
		return "null", nil
	}
	s, err := env.GetStringUTF(jv.L)
	if err != nil {
		return "", runtimeError(op, err)
	}
	return s, nil
}

// JSON returns the managed JSON form of inst without consuming it.
func (j *Jvm) JSON(inst *Instance) (string, error) {
	op := "json"
	if err := inst.usable(j.b, op); err != nil {
		return "", err
	}
	if inst.IsVoid() {
		return "", newError(KindConversion, op, "void has no value")
	}
	env, done, err := j.env(op)
	if err != nil {
		return "", err
	}
	defer done()
	return j.b.toJSON(env, op, inst.ref)
}
