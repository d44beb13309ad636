package tfrecord

import (
	"fmt"
	"math"
	"sort"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind is the list type held by a Feature.
type Kind int

const (
	KindBytes Kind = iota + 1
	KindFloat
	KindInt64
)

func (k Kind) String() string {
	switch k {
	case KindBytes:
		return "bytes_list"
	case KindFloat:
		return "float_list"
	case KindInt64:
		return "int64_list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Feature is one tf.train.Feature. Only the list matching Kind is used.
type Feature struct {
	Kind   Kind
	Bytes  [][]byte
	Floats []float32
	Int64s []int64
}

func BytesFeature(values ...[]byte) Feature { return Feature{Kind: KindBytes, Bytes: values} }
func FloatFeature(values ...float32) Feature { return Feature{Kind: KindFloat, Floats: values} }
func Int64Feature(values ...int64) Feature   { return Feature{Kind: KindInt64, Int64s: values} }

// StringFeature stores strings as a bytes_list.
func StringFeature(values ...string) Feature {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return BytesFeature(out...)
}

// Len is the number of values in the feature's list.
func (f Feature) Len() int {
	switch f.Kind {
	case KindBytes:
		return len(f.Bytes)
	case KindFloat:
		return len(f.Floats)
	case KindInt64:
		return len(f.Int64s)
	default:
		return 0
	}
}

// Example is a tf.train.Example keyed by feature name.
type Example map[string]Feature

// Field numbers from tensorflow/core/example/{example,feature}.proto.
const (
	exampleFeatures  protowire.Number = 1
	featuresFeature  protowire.Number = 1
	mapEntryKey      protowire.Number = 1
	mapEntryValue    protowire.Number = 2
	featureBytesList protowire.Number = 1
	featureFloatList protowire.Number = 2
	featureInt64List protowire.Number = 3
	listValue        protowire.Number = 1
)

// Marshal encodes the example in proto wire format. Features are written in
// key order so equal examples encode to equal bytes.
func (e Example) Marshal() ([]byte, error) {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var features []byte
	for _, key := range keys {
		value, err := marshalFeature(e[key])
		if err != nil {
			return nil, fmt.Errorf("feature %q: %w", key, err)
		}
		var entry []byte
		entry = protowire.AppendTag(entry, mapEntryKey, protowire.BytesType)
		entry = protowire.AppendString(entry, key)
		entry = protowire.AppendTag(entry, mapEntryValue, protowire.BytesType)
		entry = protowire.AppendBytes(entry, value)

		features = protowire.AppendTag(features, featuresFeature, protowire.BytesType)
		features = protowire.AppendBytes(features, entry)
	}

	out := protowire.AppendTag(nil, exampleFeatures, protowire.BytesType)
	return protowire.AppendBytes(out, features), nil
}

func marshalFeature(f Feature) ([]byte, error) {
	var list []byte
	var field protowire.Number
	switch f.Kind {
	case KindBytes:
		field = featureBytesList
		for _, v := range f.Bytes {
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, v)
		}
	case KindFloat:
		field = featureFloatList
		if len(f.Floats) > 0 {
			packed := make([]byte, 0, 4*len(f.Floats))
			for _, v := range f.Floats {
				packed = protowire.AppendFixed32(packed, math.Float32bits(v))
			}
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	case KindInt64:
		field = featureInt64List
		if len(f.Int64s) > 0 {
			var packed []byte
			for _, v := range f.Int64s {
				packed = protowire.AppendVarint(packed, uint64(v))
			}
			list = protowire.AppendTag(list, listValue, protowire.BytesType)
			list = protowire.AppendBytes(list, packed)
		}
	default:
		return nil, fmt.Errorf("unknown feature kind %d", int(f.Kind))
	}
	out := protowire.AppendTag(nil, field, protowire.BytesType)
	return protowire.AppendBytes(out, list), nil
}

// UnmarshalExample decodes a tf.train.Example. Packed and unpacked numeric
// lists are both accepted.
func UnmarshalExample(b []byte) (Example, error) {
	ex := Example{}
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != exampleFeatures || typ != protowire.BytesType {
			return nil
		}
		return eachField(v, func(num protowire.Number, typ protowire.Type, entry []byte) error {
			if num != featuresFeature || typ != protowire.BytesType {
				return nil
			}
			key, feature, err := unmarshalEntry(entry)
			if err != nil {
				return err
			}
			ex[key] = feature
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ex, nil
}

func unmarshalEntry(b []byte) (string, Feature, error) {
	var key string
	var feature Feature
	err := eachField(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case mapEntryKey:
			key = string(v)
		case mapEntryValue:
			f, err := unmarshalFeature(v)
			if err != nil {
				return err
			}
			feature = f
		}
		return nil
	})
	return key, feature, err
}

func unmarshalFeature(b []byte) (Feature, error) {
	var f Feature
	err := eachField(b, func(num protowire.Number, typ protowire.Type, list []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		switch num {
		case featureBytesList:
			f.Kind = KindBytes
			return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
				if num == listValue && typ == protowire.BytesType {
					f.Bytes = append(f.Bytes, append([]byte(nil), v...))
				}
				return nil
			})
		case featureFloatList:
			f.Kind = KindFloat
			return eachValue(list, func(typ protowire.Type, raw []byte) error {
				for len(raw) > 0 {
					bits, n := protowire.ConsumeFixed32(raw)
					if n < 0 {
						return protowire.ParseError(n)
					}
					f.Floats = append(f.Floats, math.Float32frombits(bits))
					raw = raw[n:]
				}
				return nil
			}, protowire.Fixed32Type)
		case featureInt64List:
			f.Kind = KindInt64
			return eachValue(list, func(typ protowire.Type, raw []byte) error {
				for len(raw) > 0 {
					v, n := protowire.ConsumeVarint(raw)
					if n < 0 {
						return protowire.ParseError(n)
					}
					f.Int64s = append(f.Int64s, int64(v))
					raw = raw[n:]
				}
				return nil
			}, protowire.VarintType)
		}
		return nil
	})
	return f, err
}

// eachField walks the top-level fields of a message. For length-delimited
// fields v is the payload; for other types v is the raw encoded value.
func eachField(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
		}
		b = b[n:]

		var v []byte
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(m))
			}
			v, n = payload, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("%w: %v", ErrCorrupt, protowire.ParseError(n))
			}
			v = b[:n]
		}
		if err := fn(num, typ, v); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

// eachValue feeds the value field of a numeric list to fn as a run of
// scalars of type scalar, whether the field was packed or not.
func eachValue(list []byte, fn func(typ protowire.Type, raw []byte) error, scalar protowire.Type) error {
	return eachField(list, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != listValue {
			return nil
		}
		if typ != protowire.BytesType && typ != scalar {
			return fmt.Errorf("%w: list value has wire type %d", ErrCorrupt, typ)
		}
		if err := fn(typ, v); err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		return nil
	})
}
