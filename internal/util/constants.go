package util

const (
	StorageLocal = "local"
	StorageMinio = "minio"
	StorageOSS   = "oss"
	StorageGCS   = "gcs"
)

// 文件上传相关常量
const (
	MimePNG  = "image/png"
	MimeCSV  = "text/csv; charset=utf-8"
	MimeJSON = "application/json; charset=utf-8"
)

var (
	// AllowedSheetExtensions 答卷上传
	AllowedSheetExtensions = []string{".pdf", ".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".webp", ".heic", ".heif"}
	// AllowedKeyExtensions 答案键文档上传
	AllowedKeyExtensions = []string{".pdf", ".docx", ".doc", ".jpg", ".jpeg", ".png"}
)

const (
	// ExtractionTextLimit 发送给模型的答案键文本上限
	ExtractionTextLimit = 8000
	// RawTextPreviewLimit 提取接口回显的原文长度
	RawTextPreviewLimit = 2000
)
