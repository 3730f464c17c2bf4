package body

import (
	stdjson "encoding/json"
	"io"
	"sort"

	"github.com/goccy/go-json"
)

// generator 流式 JSON 生成器
// 对象与数组逐个元素写出，只有叶子值会被整体编码，内存占用不随文档大小增长
type generator struct {
	w    io.Writer
	opts []json.EncodeOptionFunc
}

func newGenerator(w io.Writer, opts []json.EncodeOptionFunc) *generator {
	return &generator{w: w, opts: opts}
}

func (g *generator) generate(v any) error {
	switch val := v.(type) {
	case nil:
		return g.writeString("null")
	case stdjson.RawMessage:
		if len(val) == 0 {
			return g.writeString("null")
		}
		_, err := g.w.Write(val)
		return err
	case map[string]any:
		if val == nil {
			return g.writeString("null")
		}
		return g.object(val)
	case []any:
		if val == nil {
			return g.writeString("null")
		}
		return g.array(val)
	default:
		return g.leaf(val)
	}
}

func (g *generator) object(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if err := g.writeString("{"); err != nil {
		return err
	}
	for i, k := range keys {
		if i > 0 {
			if err := g.writeString(","); err != nil {
				return err
			}
		}
		if err := g.leaf(k); err != nil {
			return err
		}
		if err := g.writeString(":"); err != nil {
			return err
		}
		if err := g.generate(m[k]); err != nil {
			return err
		}
	}
	return g.writeString("}")
}

func (g *generator) array(items []any) error {
	if err := g.writeString("["); err != nil {
		return err
	}
	for i, item := range items {
		if i > 0 {
			if err := g.writeString(","); err != nil {
				return err
			}
		}
		if err := g.generate(item); err != nil {
			return err
		}
	}
	return g.writeString("]")
}

func (g *generator) leaf(v any) error {
	data, err := json.MarshalWithOption(v, g.opts...)
	if err != nil {
		return err
	}
	_, err = g.w.Write(data)
	return err
}

func (g *generator) writeString(s string) error {
	_, err := io.WriteString(g.w, s)
	return err
}
