package service

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	pdf "github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

var (
	ErrExtractNoModel = errors.New("grading model API key not configured, add GEMINI_API_KEY to your .env file")
	ErrExtractNoText  = errors.New("no readable text could be extracted from the file")
	ErrExtractNotList = errors.New("model returned an unexpected format, expected a JSON list")
)

const extractionPrompt = `You parse school exam marking schemes into structured data.

Below is text extracted from an answer key / marking scheme document:

TEXT:
%s

Return ONLY a JSON array (no markdown fences, no commentary) shaped like:
[
  {"q_number": 1, "type": "SHORT_ANSWER", "text": "Define Ohm's Law.", "max_marks": 2, "steps": []},
  {"q_number": 2, "type": "LONG_ANSWER", "text": "Explain the working of a transformer.", "max_marks": 5,
   "steps": [
     {"step_key": "a", "label": "Principle of mutual induction stated", "max_marks": 1},
     {"step_key": "b", "label": "Working explanation (step-up/step-down)", "max_marks": 1},
     {"step_key": "c", "label": "Labelled diagram", "max_marks": 2},
     {"step_key": "d", "label": "Correct formula", "max_marks": 1}
   ]}
]

Rules:
- type is exactly one of SHORT_ANSWER, LONG_ANSWER, NUMERICAL
- SHORT_ANSWER is for 1-2 mark define/state questions without sub-steps
- LONG_ANSWER is for descriptive questions with step-wise marks
- NUMERICAL is for calculation questions with step-wise marks
- steps is always a list, empty for SHORT_ANSWER
- step_key is a single lowercase letter: a, b, c, ...
- max_marks is a number, half marks such as 0.5 are allowed
- return [] when no questions can be found
`

// ExtractionResult 提取接口的返回，不落库
type ExtractionResult struct {
	Questions []map[string]interface{} `json:"questions"`
	RawText   string                   `json:"rawText"`
	Error     *string                  `json:"error"`
}

type SchemeExtractor struct {
	models        *ModelProvider
	rasterizer    PageRasterizer
	ocr           OCREngine
	pdftotextPath string
}

func NewSchemeExtractor(models *ModelProvider, rasterizer PageRasterizer, ocr OCREngine, pdftotextPath string) *SchemeExtractor {
	if pdftotextPath == "" {
		pdftotextPath = "pdftotext"
	}
	return &SchemeExtractor{
		models:        models,
		rasterizer:    rasterizer,
		ocr:           ocr,
		pdftotextPath: pdftotextPath,
	}
}

// Extract 只校验顶层为数组，不做深度校验，结果交给教师编辑
func (e *SchemeExtractor) Extract(ctx context.Context, rawText string) ([]map[string]interface{}, error) {
	client, timeout, release := e.models.Acquire()
	defer release()
	if client == nil {
		return []map[string]interface{}{}, ErrExtractNoModel
	}
	if strings.TrimSpace(rawText) == "" {
		return []map[string]interface{}{}, ErrExtractNoText
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := fmt.Sprintf(extractionPrompt, util.Truncate(rawText, util.ExtractionTextLimit))
	raw, err := client.Generate(callCtx, prompt)
	if err != nil {
		return []map[string]interface{}{}, fmt.Errorf("AI extraction failed: %w", err)
	}

	var decoded interface{}
	if err := util.ParseModelJSON(raw, &decoded); err != nil {
		return []map[string]interface{}{}, fmt.Errorf("model returned invalid JSON: %w", err)
	}

	list, ok := decoded.([]interface{})
	if !ok {
		return []map[string]interface{}{}, ErrExtractNotList
	}

	questions := make([]map[string]interface{}, 0, len(list))
	for _, item := range list {
		if q, ok := item.(map[string]interface{}); ok {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// ExtractFromFile 文本提取 + 模型解析
func (e *SchemeExtractor) ExtractFromFile(ctx context.Context, filename string, data []byte) ExtractionResult {
	rawText := e.ExtractText(ctx, filename, data)
	questions, err := e.Extract(ctx, rawText)

	result := ExtractionResult{
		Questions: questions,
		RawText:   util.Truncate(rawText, util.RawTextPreviewLimit),
	}
	if err != nil {
		msg := err.Error()
		result.Error = &msg
		logger.Log.Info("Answer key extraction degraded",
			zap.String("filename", filename),
			zap.Error(err),
		)
	}
	return result
}

// ExtractText 按扩展名提取文本，失败返回空串
func (e *SchemeExtractor) ExtractText(ctx context.Context, filename string, data []byte) string {
	switch util.Ext(filename) {
	case ".pdf":
		if text := e.pdfText(ctx, data); text != "" {
			return text
		}
		return e.ocrPages(ctx, filename, data)
	case ".docx", ".doc":
		text, err := DocxText(data)
		if err != nil {
			logger.Log.Warn("DOCX text extraction failed", zap.String("filename", filename), zap.Error(err))
		}
		return text
	default:
		return e.ocrPages(ctx, filename, data)
	}
}

// pdfText 先在进程内解析文本层，失败或为空时再调用 pdftotext
func (e *SchemeExtractor) pdfText(ctx context.Context, data []byte) string {
	text, err := PDFPlainText(data)
	if err != nil {
		logger.Log.Debug("In-process PDF text extraction failed", zap.Error(err))
	}
	if text != "" {
		return text
	}
	return e.pdftotextText(ctx, data)
}

// PDFPlainText 读取 PDF 文本层；扫描件没有文本层时返回空串
func PDFPlainText(data []byte) (text string, err error) {
	// 损坏的 PDF 可能让解析器 panic
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("pdf reader: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("pdf plaintext: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("pdf read: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func (e *SchemeExtractor) pdftotextText(ctx context.Context, data []byte) string {
	if _, err := exec.LookPath(e.pdftotextPath); err != nil {
		return ""
	}
	dir, err := os.MkdirTemp("", "answer-key-*")
	if err != nil {
		return ""
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, "key.pdf")
	if err := os.WriteFile(pdfPath, data, 0644); err != nil {
		return ""
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.pdftotextPath, "-layout", pdfPath, "-")
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		logger.Log.Warn("pdftotext failed", zap.Error(err), zap.String("stderr", stderr.String()))
		return ""
	}
	return strings.TrimSpace(stdout.String())
}

func (e *SchemeExtractor) ocrPages(ctx context.Context, filename string, data []byte) string {
	if e.ocr == nil {
		return ""
	}

	var pages []Page
	if e.rasterizer != nil {
		p, err := e.rasterizer.Rasterize(ctx, filename, data)
		if err != nil {
			logger.Log.Warn("Rasterize for OCR failed", zap.String("filename", filename), zap.Error(err))
			return ""
		}
		pages = p
	} else {
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return ""
		}
		pages = []Page{{Number: 1, Image: img}}
	}

	var parts []string
	for _, p := range pages {
		text, err := e.ocr.Text(ctx, p.Image)
		if err != nil {
			logger.Log.Warn("Answer key OCR failed", zap.Int("page", p.Number), zap.Error(err))
			continue
		}
		if text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// DocxText 读取 word/document.xml 中的段落文本
func DocxText(data []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open docx: %w", err)
	}

	var doc *zip.File
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			doc = f
			break
		}
	}
	if doc == nil {
		return "", errors.New("docx: word/document.xml missing")
	}

	rc, err := doc.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	var (
		paragraphs []string
		current    strings.Builder
		inText     bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse docx xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				current.WriteByte('\t')
			case "br":
				current.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if s := strings.TrimSpace(current.String()); s != "" {
					paragraphs = append(paragraphs, s)
				}
				current.Reset()
			}
		case xml.CharData:
			if inText {
				current.Write(t)
			}
		}
	}
	return strings.Join(paragraphs, "\n"), nil
}
