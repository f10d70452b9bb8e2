package util

import (
	"path/filepath"
	"strings"
)

// Ext 小写扩展名
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// HasAllowedExt 检查扩展名白名单
func HasAllowedExt(filename string, allowed []string) bool {
	ext := Ext(filename)
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if ext == a {
			return true
		}
	}
	return false
}

// IsPDF 通过扩展名或文件头判断
func IsPDF(filename string, data []byte) bool {
	if Ext(filename) == ".pdf" {
		return true
	}
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}

// Truncate 按 rune 截断
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
