package minibase

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// FieldKind is the closed set of field types a tuple's schema may use.
type FieldKind int8

const (
	IntType FieldKind = iota
	StringType
)

// StringLength is the fixed on-disk width, in bytes, of a StringType field.
const StringLength = 32

// FieldType names one column of a TupleDesc.
type FieldType struct {
	Name string
	Kind FieldKind
}

// TupleDesc describes the fixed-width shape of every tuple in a table.
type TupleDesc struct {
	Fields []FieldType
}

// BytesPerTuple returns the on-disk size of one tuple under this schema.
func (td *TupleDesc) BytesPerTuple() int {
	n := 0
	for _, f := range td.Fields {
		switch f.Kind {
		case IntType:
			n += 8
		case StringType:
			n += StringLength
		}
	}
	return n
}

// DBValue is a tuple field's value: IntField or StringField.
type DBValue interface {
	writeTo(buf *bytes.Buffer) error
}

type IntField struct{ Value int64 }

func (f IntField) writeTo(buf *bytes.Buffer) error {
	return binary.Write(buf, binary.LittleEndian, f.Value)
}

type StringField struct{ Value string }

func (f StringField) writeTo(buf *bytes.Buffer) error {
	b := make([]byte, StringLength)
	copy(b, f.Value)
	_, err := buf.Write(b)
	return err
}

// RecordID identifies where a tuple lives once it has been placed on a
// page: which page, and which slot within it. It is opaque to callers of
// DbFile, mirroring the out-of-scope Rid field's role.
type RecordID struct {
	PageNo int32
	SlotNo int
}

// Tuple is a schema plus its field values, plus the RecordID it was read
// from (nil until placed on or read from a page).
type Tuple struct {
	Desc   TupleDesc
	Fields []DBValue
	Rid    *RecordID
}

func (t *Tuple) writeTo(buf *bytes.Buffer) error {
	for i, f := range t.Fields {
		if err := f.writeTo(buf); err != nil {
			return fmt.Errorf("writing field %d: %w", i, err)
		}
	}
	return nil
}

func readTupleFrom(buf *bytes.Buffer, desc *TupleDesc) (*Tuple, error) {
	fields := make([]DBValue, len(desc.Fields))
	for i, ft := range desc.Fields {
		switch ft.Kind {
		case IntType:
			var v int64
			if err := binary.Read(buf, binary.LittleEndian, &v); err != nil {
				return nil, err
			}
			fields[i] = IntField{v}
		case StringType:
			b := make([]byte, StringLength)
			if _, err := buf.Read(b); err != nil {
				return nil, err
			}
			fields[i] = StringField{string(bytes.TrimRight(b, "\x00"))}
		}
	}
	return &Tuple{Desc: *desc, Fields: fields}, nil
}
