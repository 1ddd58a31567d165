package workflow

import (
	"database/sql/driver"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// JSONDetail 节点详情里面不透明的 JSON 文档, client_node_detail 的 metadata 和 data 都是这个类型
// 既可以直接作为 gorm 的列类型存储, 也可以直接序列化给客户端
type JSONDetail struct {
	data map[string]any
}

func NewJSONDetail(b []byte) *JSONDetail {
	d := &JSONDetail{data: make(map[string]any)}
	if len(b) > 0 {
		// 非法的数据直接当成空文档, 读取的时候不报错
		_ = json.Unmarshal(b, &d.data)
	}
	return d
}

func NewJSONDetailFromMap(m map[string]any) *JSONDetail {
	if m == nil {
		m = make(map[string]any)
	}
	return &JSONDetail{data: m}
}

// Lookup 按路径取值, Lookup("options", "queue") 取 options.queue
func (d *JSONDetail) Lookup(path ...string) (any, bool) {
	if d == nil || len(path) == 0 {
		return nil, false
	}
	var current any = d.data
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		if current, ok = m[key]; !ok {
			return nil, false
		}
	}
	return current, true
}

func (d *JSONDetail) String(path ...string) (string, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int64 json 反序列化后数字都是 float64, 这里统一处理
func (d *JSONDetail) Int64(path ...string) (int64, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func (d *JSONDetail) Bool(path ...string) (bool, bool) {
	v, ok := d.Lookup(path...)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Put 按路径写入, 中间不是 map 的节点会被覆盖
func (d *JSONDetail) Put(value any, path ...string) error {
	if len(path) == 0 {
		return errors.New("path cannot be empty")
	}
	if d.data == nil {
		d.data = make(map[string]any)
	}
	current := d.data
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = make(map[string]any)
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
	return nil
}

// Map 返回的是引用
func (d *JSONDetail) Map() map[string]any {
	if d == nil {
		return nil
	}
	return d.data
}

func (d *JSONDetail) Bytes() ([]byte, error) {
	if d == nil || d.data == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.data)
}

func (d *JSONDetail) Clone() *JSONDetail {
	b, err := d.Bytes()
	if err != nil {
		return NewJSONDetail(nil)
	}
	return NewJSONDetail(b)
}

// Decode 反序列化到结构体
func (d *JSONDetail) Decode(v any) error {
	b, err := d.Bytes()
	if err != nil {
		return errors.WithMessage(err, "marshal detail failed")
	}
	return json.Unmarshal(b, v)
}

func (d *JSONDetail) MarshalJSON() ([]byte, error) {
	return d.Bytes()
}

func (d *JSONDetail) UnmarshalJSON(b []byte) error {
	d.data = make(map[string]any)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	return json.Unmarshal(b, &d.data)
}

// Value gorm 写库
func (d JSONDetail) Value() (driver.Value, error) {
	b, err := d.Bytes()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan gorm 读库, sqlite 返回 string, postgres 返回 []byte
func (d *JSONDetail) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		d.data = make(map[string]any)
		return nil
	case []byte:
		return d.UnmarshalJSON(v)
	case string:
		return d.UnmarshalJSON([]byte(v))
	}
	return errors.Errorf("unsupported JSONDetail source type %T", src)
}
