package util

import (
	"encoding/json"
	"fmt"
	"strings"
)

// StripCodeFences 去掉 ```json ... ``` 包裹
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		// 去掉语言标记行，例如 json
		if first := strings.TrimSpace(s[:nl]); !strings.ContainsAny(first, "{[") {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// NormalizeModelJSON 去掉代码块并截取最外层的对象或数组，找不到时返回空串
func NormalizeModelJSON(s string) string {
	s = StripCodeFences(s)
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return ""
	}
	return s[start : end+1]
}

// ParseModelJSON 先严格解析，失败后做一次有限的规整再解析
func ParseModelJSON(raw string, v interface{}) error {
	trimmed := strings.TrimSpace(raw)
	strictErr := json.Unmarshal([]byte(trimmed), v)
	if strictErr == nil {
		return nil
	}

	normalized := NormalizeModelJSON(trimmed)
	if normalized == "" || normalized == trimmed {
		return fmt.Errorf("%w: %v", ErrUnparsableResponse, strictErr)
	}
	if err := json.Unmarshal([]byte(normalized), v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnparsableResponse, err)
	}
	return nil
}
