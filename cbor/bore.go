package cbor

import "reflect"

// MustBore is Bore for expressions known to be valid; it panics on a
// malformed expression and otherwise only reports whether the path resolved.
func MustBore[T any](obj any, expr string) (ok bool, result T) {
	var err error
	ok, result, err = Bore[T](obj, expr)
	if err != nil {
		panic(err)
	}
	return
}

// Bore walks a decoded CBOR value along expr and returns the value found
// there as T. Integer results are converted to the requested integer type
// when they fit.
func Bore[T any](obj any, expr string) (ok bool, result T, err error) {
	steps, err := parseBoreExpr(expr)
	if err != nil {
		return
	}

loop:
	for _, s := range steps {
		if s.RequiredType == reflect.Array {
			rv := reflect.ValueOf(obj)
			k := rv.Kind()
			if k != reflect.Slice && k != reflect.Array {
				return
			}
			idx := s.ExprValue.(int)
			if idx >= rv.Len() {
				return
			}
			obj = rv.Index(idx).Interface()
			continue
		}

		mapObj, isMap := obj.(map[any]any)
		if !isMap {
			return
		}

		for k, v := range mapObj {
			if keyEqual(k, s.ExprValue) {
				obj = v
				continue loop
			}
		}
		return
	}

	result, ok = convert[T](obj)
	return
}

// keyEqual compares a decoded map key against a path key. Integer keys
// compare by value regardless of their decoded sign.
func keyEqual(key, want any) bool {
	if ki, ok := asInt64(key); ok {
		wi, ok := asInt64(want)
		return ok && ki == wi
	}
	return key == want
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case uint64:
		if n > 1<<63-1 {
			return 0, false
		}
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint:
		return int64(n), true
	}
	return 0, false
}

func convert[T any](obj any) (result T, ok bool) {
	if result, ok = obj.(T); ok {
		return
	}
	target := reflect.TypeOf(result)
	if target == nil {
		return
	}
	src := reflect.ValueOf(obj)
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, isInt := asInt64(obj)
		if !isInt || reflect.Zero(target).OverflowInt(n) {
			return result, false
		}
		reflect.ValueOf(&result).Elem().SetInt(n)
		return result, true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if src.Kind() != reflect.Uint64 {
			n, isInt := asInt64(obj)
			if !isInt || n < 0 {
				return result, false
			}
			src = reflect.ValueOf(uint64(n))
		}
		if reflect.Zero(target).OverflowUint(src.Uint()) {
			return result, false
		}
		reflect.ValueOf(&result).Elem().SetUint(src.Uint())
		return result, true
	}
	return result, false
}

// BoreSlice resolves expr to an array and converts each element to T,
// skipping elements of another type.
func BoreSlice[T any](obj any, expr string) (ok bool, result []T) {
	ok, raw := MustBore[[]any](obj, expr)
	if !ok {
		return
	}
	result = make([]T, 0, len(raw))
	for _, v := range raw {
		if item, isT := convert[T](v); isT {
			result = append(result, item)
		}
	}
	return
}

// MapGetKey reads a text-keyed entry from a decoded map.
func MapGetKey[T any](m map[any]any, key string) (T, bool) {
	return convert[T](m[key])
}
