package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// JsonColumn is a generic wrapper which allows any JSON-serializable type to
// be read from (and written to) a JSONB column without each store hand-rolling
// the Scanner/Valuer plumbing.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val *T) JsonColumn[T] {
	return JsonColumn[T]{val: val}
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	var bytes []byte
	switch source := src.(type) {
	case []byte:
		bytes = source
	case string:
		bytes = []byte(source)
	default:
		return fmt.Errorf("unsupported source type %T for JsonColumn scan", src)
	}

	var out T
	if err := json.Unmarshal(bytes, &out); err != nil {
		return err
	}

	j.val = &out
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(j.val)
}

// Get returns the contained value, which is nil if the scanned column
// was NULL.
func (j *JsonColumn[T]) Get() *T { return j.val }

var ErrJsonColumnEmpty = errors.New("JsonColumn contains no value")
