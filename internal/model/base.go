package model

import (
	"database/sql/driver"
	"fmt"
)

// Flag is a Y/N column rendered as a boolean.
type Flag bool

func (f *Flag) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*f = false
	case string:
		*f = v == "Y" || v == "y"
	case []byte:
		*f = len(v) == 1 && (v[0] == 'Y' || v[0] == 'y')
	case bool:
		*f = Flag(v)
	default:
		return fmt.Errorf("model: cannot scan %T into Flag", src)
	}
	return nil
}

func (f Flag) Value() (driver.Value, error) {
	if f {
		return "Y", nil
	}
	return "N", nil
}

// Bit is a 0/1 integer column rendered as a boolean.
type Bit bool

func (b *Bit) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*b = false
	case int64:
		*b = v != 0
	case bool:
		*b = Bit(v)
	case []byte:
		*b = len(v) == 1 && v[0] == '1'
	default:
		return fmt.Errorf("model: cannot scan %T into Bit", src)
	}
	return nil
}

func (b Bit) Value() (driver.Value, error) {
	if b {
		return int64(1), nil
	}
	return int64(0), nil
}

// Pagination represents common pagination parameters
type Pagination struct {
	Page     int `json:"page" form:"page"`
	PageSize int `json:"page_size" form:"page_size"`
}

// Normalize clamps the page parameters into a usable window.
func (p Pagination) Normalize() Pagination {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PageSize < 1 || p.PageSize > 500 {
		p.PageSize = 100
	}
	return p
}

func (p Pagination) Offset() int {
	return (p.Page - 1) * p.PageSize
}
