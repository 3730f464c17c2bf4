package body

import (
	"mime"
	"strings"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"
)

// NewBoundary 生成 multipart 边界字符串
func NewBoundary() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsMultipart 判断 Content-Type 是否为 multipart 类型
func IsMultipart(contentType string) bool {
	mt := contenttype.NewMediaType(contentType)
	return strings.EqualFold(mt.Type, "multipart")
}

// Boundary 返回 Content-Type 中的 boundary 参数
func Boundary(contentType string) string {
	mt := contenttype.NewMediaType(contentType)
	for k, v := range mt.Parameters {
		if strings.EqualFold(k, "boundary") {
			return v
		}
	}
	return ""
}

// EnsureBoundary 确保 multipart Content-Type 带有 boundary
// 已有 boundary 时原样返回，否则生成一个并写回 Content-Type
func EnsureBoundary(contentType string) (boundary, header string, err error) {
	mt := contenttype.NewMediaType(contentType)
	if !strings.EqualFold(mt.Type, "multipart") {
		return "", contentType, ErrNotMultipart.WithMessage("body: " + contentType + " is not multipart")
	}

	params := make(map[string]string, len(mt.Parameters)+1)
	for k, v := range mt.Parameters {
		if strings.EqualFold(k, "boundary") && v != "" {
			return v, contentType, nil
		}
		params[k] = v
	}

	boundary = NewBoundary()
	params["boundary"] = boundary
	return boundary, mime.FormatMediaType(strings.ToLower(mt.Type+"/"+mt.Subtype), params), nil
}
