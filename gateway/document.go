package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/shopspring/decimal"
)

// Document 解析后的 JSON 树，可按键名或下标逐级访问。
// 访问不存在的路径不会 panic，错误在取值时返回。
type Document struct {
	v    any
	path string
	ok   bool
}

// Decode 读取一个完整的 JSON 值；数字保留原始文本，避免提前转成 float64。
func Decode(r io.Reader) (Document, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return Document{}, fmt.Errorf("%w: trailing data after JSON value", ErrDecode)
	}
	return Document{v: v, path: "$", ok: true}, nil
}

// Exists 路径是否存在。
func (d Document) Exists() bool { return d.ok }

// Path 当前节点的路径，如 $.asks[0].rate。
func (d Document) Path() string { return d.path }

func (d Document) Get(key string) Document {
	child := Document{path: d.path + "." + key}
	if !d.ok {
		return child
	}
	if m, isMap := d.v.(map[string]any); isMap {
		child.v, child.ok = m[key]
	}
	return child
}

func (d Document) Index(i int) Document {
	child := Document{path: d.path + "[" + strconv.Itoa(i) + "]"}
	if !d.ok {
		return child
	}
	if arr, isArr := d.v.([]any); isArr && i >= 0 && i < len(arr) {
		child.v, child.ok = arr[i], true
	}
	return child
}

// Array 返回数组元素；节点不是数组时返回 ErrDecode。
func (d Document) Array() ([]Document, error) {
	if !d.ok {
		return nil, &PathError{Path: d.path, Reason: "missing"}
	}
	arr, isArr := d.v.([]any)
	if !isArr {
		return nil, &PathError{Path: d.path, Reason: fmt.Sprintf("expected array, got %T", d.v)}
	}
	out := make([]Document, len(arr))
	for i := range arr {
		out[i] = d.Index(i)
	}
	return out, nil
}

// Decimal 读取数值节点。交易所常把数字编码成字符串，两种形式都接受。
func (d Document) Decimal() (decimal.Decimal, error) {
	if !d.ok {
		return decimal.Zero, &PathError{Path: d.path, Reason: "missing"}
	}
	var raw string
	switch v := d.v.(type) {
	case json.Number:
		raw = v.String()
	case string:
		raw = v
	default:
		return decimal.Zero, &PathError{Path: d.path, Reason: fmt.Sprintf("expected number, got %T", d.v)}
	}
	n, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &PathError{Path: d.path, Reason: fmt.Sprintf("invalid number %q", raw)}
	}
	return n, nil
}

func (d Document) Float() (float64, error) {
	n, err := d.Decimal()
	if err != nil {
		return 0, err
	}
	return n.InexactFloat64(), nil
}

func (d Document) Int64() (int64, error) {
	n, err := d.Decimal()
	if err != nil {
		return 0, err
	}
	if !n.IsInteger() {
		return 0, &PathError{Path: d.path, Reason: fmt.Sprintf("expected integer, got %s", n)}
	}
	return n.IntPart(), nil
}

func (d Document) Text() (string, error) {
	if !d.ok {
		return "", &PathError{Path: d.path, Reason: "missing"}
	}
	s, isStr := d.v.(string)
	if !isStr {
		return "", &PathError{Path: d.path, Reason: fmt.Sprintf("expected string, got %T", d.v)}
	}
	return s, nil
}
