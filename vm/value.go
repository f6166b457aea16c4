package vm

import (
	"fmt"
	"math"
)

// Tag discriminates the variant held by a Value. Mirrors the teacher's use
// of a plain byte-sized enum (Bytecode) for a tagged set of constants.
type Tag uint8

const (
	TagNull Tag = iota
	TagBoolean
	TagInteger
	TagUnsigned
	TagFloat
	TagString
	TagSymbol
	TagArray
	TagMap
	TagBinary
	TagLambda
	TagInstructions
	TagCustom
)

func (t Tag) String() string {
	switch t {
	case TagNull:
		return "null"
	case TagBoolean:
		return "boolean"
	case TagInteger:
		return "integer"
	case TagUnsigned:
		return "unsigned"
	case TagFloat:
		return "float"
	case TagString:
		return "string"
	case TagSymbol:
		return "symbol"
	case TagArray:
		return "array"
	case TagMap:
		return "map"
	case TagBinary:
		return "binary"
	case TagLambda:
		return "lambda"
	case TagInstructions:
		return "instructions"
	case TagCustom:
		return "custom"
	default:
		return "?unknown?"
	}
}

// CustomKind distinguishes the handful of opaque carriers Value.Custom can
// hold: monitor references and partial-application (bind) tuples.
type CustomKind uint8

const (
	CustomMonitorRef CustomKind = iota
	CustomBoundLambda
)

// MonitorRef is a (watcher, watched) monitor handle; equality is by ID.
type MonitorRef struct {
	ID        uint64
	Watcher   Address
	Watched   Address
	CreatedAt int64 // unix nanos, stamped by the caller (spec forbids time.Now in places we don't control)
}

// BoundLambda is the result of LAMBDA_BIND(n): a lambda with n leading
// arguments already supplied.
type BoundLambda struct {
	Lambda *Lambda
	Bound  []Value
}

// Lambda is a closure: a code body, its declared parameter names, and the
// environment captured at creation time (both the name->value snapshot the
// source splices into globals, and the ordered upvalue list addressed by
// LOAD_UPVALUE/STORE_UPVALUE — see spec §9 on why both exist).
type Lambda struct {
	Body       []Instruction
	Params     []string
	Captured   *OrderedMap // name -> value, injected into globals on invoke
	Upvalues   []Value
	UpNames    []string // parallel to Upvalues: the globals LAMBDA_CREATE captures
}

// Value is a tagged sum over the runtime value space described in spec §3.
// Only one of the typed fields is meaningful, selected by Tag.
type Value struct {
	Tag Tag

	boolean  bool
	integer  int64
	unsigned uint64
	float    float64
	str      string // String and Symbol payload

	array  []Value
	m      *OrderedMap
	binary []byte

	lambda *Lambda
	instrs []Instruction

	customKind CustomKind
	custom     any
}

func Null() Value                      { return Value{Tag: TagNull} }
func Bool(b bool) Value                { return Value{Tag: TagBoolean, boolean: b} }
func Int(i int64) Value                { return Value{Tag: TagInteger, integer: i} }
func Uint(u uint64) Value              { return Value{Tag: TagUnsigned, unsigned: u} }
func Float(f float64) Value            { return Value{Tag: TagFloat, float: f} }
func Str(s string) Value               { return Value{Tag: TagString, str: s} }
func Sym(s string) Value               { return Value{Tag: TagSymbol, str: s} }
func Arr(items ...Value) Value         { return Value{Tag: TagArray, array: items} }
func Bin(b []byte) Value               { return Value{Tag: TagBinary, binary: b} }
func MapVal(m *OrderedMap) Value       { return Value{Tag: TagMap, m: m} }
func LambdaVal(l *Lambda) Value        { return Value{Tag: TagLambda, lambda: l} }
func InstructionsVal(is []Instruction) Value {
	return Value{Tag: TagInstructions, instrs: is}
}
func MonitorRefVal(r MonitorRef) Value {
	return Value{Tag: TagCustom, customKind: CustomMonitorRef, custom: r}
}
func BoundLambdaVal(b BoundLambda) Value {
	return Value{Tag: TagCustom, customKind: CustomBoundLambda, custom: b}
}

func (v Value) IsNull() bool     { return v.Tag == TagNull }
func (v Value) AsBool() bool     { return v.boolean }
func (v Value) AsInt() int64     { return v.integer }
func (v Value) AsUint() uint64   { return v.unsigned }
func (v Value) AsFloat() float64 { return v.float }
func (v Value) AsString() string { return v.str }
func (v Value) AsArray() []Value { return v.array }
func (v Value) AsMap() *OrderedMap { return v.m }
func (v Value) AsBinary() []byte { return v.binary }
func (v Value) AsLambda() *Lambda { return v.lambda }
func (v Value) AsInstructions() []Instruction { return v.instrs }

func (v Value) AsMonitorRef() (MonitorRef, bool) {
	if v.Tag == TagCustom && v.customKind == CustomMonitorRef {
		return v.custom.(MonitorRef), true
	}
	return MonitorRef{}, false
}

func (v Value) AsBoundLambda() (BoundLambda, bool) {
	if v.Tag == TagCustom && v.customKind == CustomBoundLambda {
		return v.custom.(BoundLambda), true
	}
	return BoundLambda{}, false
}

func (v Value) IsNumeric() bool {
	return v.Tag == TagInteger || v.Tag == TagUnsigned || v.Tag == TagFloat
}

// Truthy implements spec §4.1: Null and false are falsy, empty
// string/array/map/binary are falsy, everything else is truthy.
func (v Value) Truthy() bool {
	switch v.Tag {
	case TagNull:
		return false
	case TagBoolean:
		return v.boolean
	case TagString, TagSymbol:
		return v.str != ""
	case TagArray:
		return len(v.array) != 0
	case TagMap:
		return v.m != nil && v.m.Len() != 0
	case TagBinary:
		return len(v.binary) != 0
	default:
		return true
	}
}

// Clone deep-copies collection payloads (Array, Map, Binary) so that
// mutating the clone never observes on the original. Lambdas and custom
// carriers are identity-based per spec §3 and are copied by reference.
func (v Value) Clone() Value {
	switch v.Tag {
	case TagArray:
		cp := make([]Value, len(v.array))
		for i, item := range v.array {
			cp[i] = item.Clone()
		}
		v.array = cp
	case TagMap:
		if v.m != nil {
			v.m = v.m.Clone()
		}
	case TagBinary:
		cp := make([]byte, len(v.binary))
		copy(cp, v.binary)
		v.binary = cp
	}
	return v
}

func numAsFloat(v Value) float64 {
	switch v.Tag {
	case TagInteger:
		return float64(v.integer)
	case TagUnsigned:
		return float64(v.unsigned)
	case TagFloat:
		return v.float
	}
	return math.NaN()
}

// Equal implements structural equality for primitives/collections, with
// cross-type coercion within numerics, and identity equality for lambdas
// and custom carriers (spec §3, §4.1).
func Equal(a, b Value) bool {
	if a.IsNumeric() && b.IsNumeric() {
		if a.Tag == TagFloat || b.Tag == TagFloat {
			af, bf := numAsFloat(a), numAsFloat(b)
			return af == bf
		}
		if a.Tag == TagUnsigned && b.Tag == TagUnsigned {
			return a.unsigned == b.unsigned
		}
		return numAsFloat(a) == numAsFloat(b)
	}

	if a.Tag != b.Tag {
		return false
	}

	switch a.Tag {
	case TagNull:
		return true
	case TagBoolean:
		return a.boolean == b.boolean
	case TagString, TagSymbol:
		return a.str == b.str
	case TagBinary:
		if len(a.binary) != len(b.binary) {
			return false
		}
		for i := range a.binary {
			if a.binary[i] != b.binary[i] {
				return false
			}
		}
		return true
	case TagArray:
		if len(a.array) != len(b.array) {
			return false
		}
		for i := range a.array {
			if !Equal(a.array[i], b.array[i]) {
				return false
			}
		}
		return true
	case TagMap:
		if a.m == nil || b.m == nil {
			return a.m == b.m
		}
		if a.m.Len() != b.m.Len() {
			return false
		}
		for _, k := range a.m.Keys() {
			bv, ok := b.m.Get(k)
			if !ok {
				return false
			}
			av, _ := a.m.Get(k)
			if !Equal(av, bv) {
				return false
			}
		}
		return true
	case TagLambda:
		return a.lambda == b.lambda
	case TagInstructions:
		// value identity via the underlying slice header; two builds of the
		// same code block are not required to compare equal.
		return fmt.Sprintf("%p", a.instrs) == fmt.Sprintf("%p", b.instrs)
	case TagCustom:
		if a.customKind != b.customKind {
			return false
		}
		if a.customKind == CustomMonitorRef {
			ar, _ := a.AsMonitorRef()
			br, _ := b.AsMonitorRef()
			return ar.ID == br.ID
		}
		return false
	default:
		return false
	}
}

// Compare implements the ordering rules of spec §4.1. The second return
// value is non-nil (TypeMismatch) when the two values cannot be ordered.
func Compare(a, b Value) (int, error) {
	if a.IsNumeric() && b.IsNumeric() {
		af, bf := numAsFloat(a), numAsFloat(b)
		if math.IsNaN(af) || math.IsNaN(bf) {
			return 0, NewFault(KindTypeMismatch, "cannot order NaN")
		}
		switch {
		case af < bf:
			return -1, nil
		case af > bf:
			return 1, nil
		default:
			return 0, nil
		}
	}

	if a.Tag != b.Tag {
		return 0, NewFault(KindTypeMismatch, fmt.Sprintf("cannot compare %s to %s", a.Tag, b.Tag))
	}

	switch a.Tag {
	case TagString:
		return compareOrdered(a.str, b.str), nil
	case TagSymbol:
		return compareOrdered(a.str, b.str), nil
	case TagBinary:
		return compareBytes(a.binary, b.binary), nil
	case TagArray:
		n := len(a.array)
		if len(b.array) < n {
			n = len(b.array)
		}
		for i := 0; i < n; i++ {
			c, err := Compare(a.array[i], b.array[i])
			if err != nil {
				return 0, err
			}
			if c != 0 {
				return c, nil
			}
		}
		return compareOrdered(len(a.array), len(b.array)), nil
	default:
		return 0, NewFault(KindTypeMismatch, fmt.Sprintf("type %s is not ordered", a.Tag))
	}
}

func compareOrdered[T interface{ ~string | ~int }](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return compareOrdered(len(a), len(b))
}
