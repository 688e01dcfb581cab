// Copyright 2017 Ole Krüger.
// Licensed under the MIT license which can be found in the LICENSE file.

package util

import (
	"encoding/binary"
	"fmt"
	"reflect"
)

// Packable is implemented by types that can be packed into a byte buffer.
type Packable interface {
	// Size returns the number of bytes Pack will write.
	Size() uint

	// Pack writes the structure into the given buffer. The buffer must hold at least Size() bytes.
	Pack(buffer []byte)
}

// Unpackable is implemented by types that can be initialized from a byte buffer.
type Unpackable interface {
	// Unpack parses the given data and returns the number of bytes consumed.
	Unpack(data []byte) (uint, error)
}

// AllocAndPack allocates a buffer large enough for all items and packs them into it.
func AllocAndPack(items ...Packable) []byte {
	size := uint(0)
	for _, item := range items {
		size += item.Size()
	}

	buffer := make([]byte, size)

	offset := uint(0)
	for _, item := range items {
		item.Pack(buffer[offset:])
		offset += item.Size()
	}

	return buffer
}

// PackSome packs the given items one after another into the buffer. Supported items are
// unsigned integers (including named types based on them), byte slices and arrays, and
// Packable values.
func PackSome(buffer []byte, items ...interface{}) {
	offset := 0
	for _, item := range items {
		offset += packItem(buffer[offset:], item)
	}
}

func packItem(buffer []byte, item interface{}) int {
	switch item := item.(type) {
	case uint8:
		buffer[0] = item
		return 1

	case uint16:
		binary.BigEndian.PutUint16(buffer, item)
		return 2

	case uint32:
		binary.BigEndian.PutUint32(buffer, item)
		return 4

	case []byte:
		return copy(buffer, item)

	case Packable:
		item.Pack(buffer)
		return int(item.Size())
	}

	value := reflect.ValueOf(item)

	// Values whose Pack method has a pointer receiver.
	ptr := reflect.New(value.Type())
	ptr.Elem().Set(value)
	if p, ok := ptr.Interface().(Packable); ok {
		p.Pack(buffer)
		return int(p.Size())
	}

	switch value.Kind() {
	case reflect.Uint8:
		buffer[0] = uint8(value.Uint())
		return 1

	case reflect.Uint16:
		binary.BigEndian.PutUint16(buffer, uint16(value.Uint()))
		return 2

	case reflect.Uint32:
		binary.BigEndian.PutUint32(buffer, uint32(value.Uint()))
		return 4

	case reflect.Array, reflect.Slice:
		if value.Type().Elem().Kind() == reflect.Uint8 {
			n := value.Len()
			for i := 0; i < n; i++ {
				buffer[i] = uint8(value.Index(i).Uint())
			}
			return n
		}
	}

	panic(fmt.Sprintf("util: cannot pack item of type %T", item))
}

// UnpackSome unpacks the items one after another from the data. Items must be pointers to
// unsigned integers (including named types based on them), byte slices (filled completely),
// pointers to byte arrays, or Unpackable values. It returns the total number of bytes consumed.
func UnpackSome(data []byte, items ...interface{}) (uint, error) {
	n := uint(0)
	for _, item := range items {
		nn, err := unpackItem(data[n:], item)
		if err != nil {
			return n, err
		}
		n += nn
	}
	return n, nil
}

func unpackItem(data []byte, item interface{}) (uint, error) {
	switch item := item.(type) {
	case *uint8:
		if len(data) < 1 {
			return 0, &TruncatedBufferError{Need: 1, Have: len(data)}
		}
		*item = data[0]
		return 1, nil

	case *uint16:
		if len(data) < 2 {
			return 0, &TruncatedBufferError{Need: 2, Have: len(data)}
		}
		*item = binary.BigEndian.Uint16(data)
		return 2, nil

	case *uint32:
		if len(data) < 4 {
			return 0, &TruncatedBufferError{Need: 4, Have: len(data)}
		}
		*item = binary.BigEndian.Uint32(data)
		return 4, nil

	case []byte:
		if len(data) < len(item) {
			return 0, &TruncatedBufferError{Need: len(item), Have: len(data)}
		}
		return uint(copy(item, data)), nil

	case Unpackable:
		return item.Unpack(data)
	}

	value := reflect.ValueOf(item)
	if value.Kind() != reflect.Ptr || value.IsNil() {
		panic(fmt.Sprintf("util: cannot unpack into %T", item))
	}

	elem := value.Elem()
	switch elem.Kind() {
	case reflect.Uint8:
		if len(data) < 1 {
			return 0, &TruncatedBufferError{Need: 1, Have: len(data)}
		}
		elem.SetUint(uint64(data[0]))
		return 1, nil

	case reflect.Uint16:
		if len(data) < 2 {
			return 0, &TruncatedBufferError{Need: 2, Have: len(data)}
		}
		elem.SetUint(uint64(binary.BigEndian.Uint16(data)))
		return 2, nil

	case reflect.Uint32:
		if len(data) < 4 {
			return 0, &TruncatedBufferError{Need: 4, Have: len(data)}
		}
		elem.SetUint(uint64(binary.BigEndian.Uint32(data)))
		return 4, nil

	case reflect.Array:
		if elem.Type().Elem().Kind() == reflect.Uint8 {
			n := elem.Len()
			if len(data) < n {
				return 0, &TruncatedBufferError{Need: n, Have: len(data)}
			}
			reflect.Copy(elem, reflect.ValueOf(data[:n]))
			return uint(n), nil
		}
	}

	panic(fmt.Sprintf("util: cannot unpack into %T", item))
}
