package seq

import (
	"context"
	"reflect"
)

// The classifier resolves a raw function entry to one of the closed
// protocols, once, at registration. Resolution is purely by signature: the
// recognized shapes are the four constructor signatures, each accepted with
// or without a leading context.Context, and with the error-only return as a
// shorthand for (any, error). Parameter names play no part.
//
// Recognized:
//
//	func([ctx]) [error | (any, error)]
//	func([ctx], any) [error | (any, error)]
//	func([ctx], Callback)
//	func([ctx], any, Callback)
//
// Anything else is a ClassifyError naming the entry's position.

var (
	ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errType = reflect.TypeOf((*error)(nil)).Elem()
	anyType = reflect.TypeOf((*any)(nil)).Elem()
	cbType  = reflect.TypeOf(Callback(nil))
)

func classifyFunc(fn any, ordinal int) (Step, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func || isNil(fn) {
		return Step{}, &NotFunctionError{Ordinal: ordinal, Value: fn}
	}
	if t.IsVariadic() {
		return Step{}, &ClassifyError{Ordinal: ordinal, Type: t}
	}

	fv := reflect.ValueOf(fn)

	params := make([]reflect.Type, 0, t.NumIn())
	for i := 0; i < t.NumIn(); i++ {
		params = append(params, t.In(i))
	}
	wantsCtx := len(params) > 0 && params[0] == ctxType
	if wantsCtx {
		params = params[1:]
	}

	if !validReturns(t) {
		return Step{}, &ClassifyError{Ordinal: ordinal, Type: t}
	}

	call := func(ctx context.Context, args []reflect.Value) (any, error) {
		if wantsCtx {
			args = append([]reflect.Value{reflect.ValueOf(ctx)}, args...)
		}
		return outValues(fv.Call(args))
	}

	switch {
	case len(params) == 0:
		return Do(func(ctx context.Context) (any, error) {
			return call(ctx, nil)
		}), nil

	case len(params) == 1 && isAnyParam(params[0]):
		return Then(func(ctx context.Context, prev any) (any, error) {
			return call(ctx, []reflect.Value{anyValue(prev)})
		}), nil

	case len(params) == 1 && isCallbackParam(params[0]) && t.NumOut() == 0:
		return Async(func(ctx context.Context, done Callback) {
			_, _ = call(ctx, []reflect.Value{reflect.ValueOf(done).Convert(params[0])})
		}), nil

	case len(params) == 2 && isAnyParam(params[0]) && isCallbackParam(params[1]) && t.NumOut() == 0:
		return ThenAsync(func(ctx context.Context, prev any, done Callback) {
			_, _ = call(ctx, []reflect.Value{anyValue(prev), reflect.ValueOf(done).Convert(params[1])})
		}), nil
	}

	return Step{}, &ClassifyError{Ordinal: ordinal, Type: t}
}

// validReturns accepts no returns (callback protocols), error only, or
// (any, error).
func validReturns(t reflect.Type) bool {
	switch t.NumOut() {
	case 0:
		return true
	case 1:
		return t.Out(0) == errType
	case 2:
		return t.Out(0) == anyType && t.Out(1) == errType
	}
	return false
}

func outValues(rets []reflect.Value) (any, error) {
	switch len(rets) {
	case 0:
		return nil, nil
	case 1:
		return nil, asError(rets[0])
	default:
		return rets[0].Interface(), asError(rets[1])
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	return v.Interface().(error)
}

func isAnyParam(t reflect.Type) bool {
	return t.Kind() == reflect.Interface && t.NumMethod() == 0
}

func isCallbackParam(t reflect.Type) bool {
	return t == cbType || (t.Kind() == reflect.Func && t.ConvertibleTo(cbType) && cbType.ConvertibleTo(t))
}

func anyValue(v any) reflect.Value {
	if v == nil {
		return reflect.Zero(anyType)
	}
	rv := reflect.New(anyType).Elem()
	rv.Set(reflect.ValueOf(v))
	return rv
}
