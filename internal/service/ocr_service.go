package service

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/pkg/logger"
	"image"
	"image/png"
	"os/exec"
	"strconv"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Word OCR 单词及其像素框，Confidence 取值 0-100
type Word struct {
	Text       string
	Confidence float64
	Left       int
	Top        int
	Width      int
	Height     int
}

// OCREngine 词级 OCR；为 nil 表示 OCR 不可用
type OCREngine interface {
	Name() string
	Words(ctx context.Context, img image.Image) ([]Word, error)
	Text(ctx context.Context, img image.Image) (string, error)
}

// NewOCREngine 依赖缺失时返回 nil，流水线退回演示区域
func NewOCREngine(ctx context.Context, cfg config.OCRConfig) (OCREngine, error) {
	switch cfg.Provider {
	case "vision":
		engine, err := NewVisionEngine(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return engine, nil
	case "tesseract", "":
		cmd := cfg.TesseractCmd
		if cmd == "" {
			cmd = "tesseract"
		}
		if _, err := exec.LookPath(cmd); err != nil {
			logger.Log.Warn("Tesseract not found, OCR disabled", zap.String("cmd", cmd))
			return nil, nil
		}
		return NewTesseractEngine(cmd, cfg.Language), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported ocr provider %q", cfg.Provider)
	}
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TesseractEngine 调用 tesseract 命令行，图片经 stdin 传入
type TesseractEngine struct {
	cmd  string
	lang string
}

func NewTesseractEngine(cmd, lang string) *TesseractEngine {
	if lang == "" {
		lang = "eng"
	}
	return &TesseractEngine{cmd: cmd, lang: lang}
}

func (t *TesseractEngine) Name() string { return "tesseract" }

func (t *TesseractEngine) run(ctx context.Context, img image.Image, extra ...string) ([]byte, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	args := append([]string{"stdin", "stdout", "-l", t.lang}, extra...)
	cmd := exec.CommandContext(ctx, t.cmd, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tesseract: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

func (t *TesseractEngine) Words(ctx context.Context, img image.Image) ([]Word, error) {
	out, err := t.run(ctx, img, "tsv")
	if err != nil {
		return nil, err
	}
	return ParseTesseractTSV(out), nil
}

func (t *TesseractEngine) Text(ctx context.Context, img image.Image) (string, error) {
	out, err := t.run(ctx, img)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// ParseTesseractTSV 列: level page_num block_num par_num line_num word_num left top width height conf text
func ParseTesseractTSV(out []byte) []Word {
	var words []Word
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	header := true
	for sc.Scan() {
		line := sc.Text()
		if header {
			header = false
			if strings.HasPrefix(line, "level") {
				continue
			}
		}
		cols := strings.Split(line, "\t")
		if len(cols) < 12 {
			continue
		}
		text := strings.TrimSpace(cols[11])
		if text == "" {
			continue
		}
		conf, err := strconv.ParseFloat(cols[10], 64)
		if err != nil || conf < 0 {
			continue
		}
		left, _ := strconv.Atoi(cols[6])
		top, _ := strconv.Atoi(cols[7])
		width, _ := strconv.Atoi(cols[8])
		height, _ := strconv.Atoi(cols[9])
		words = append(words, Word{
			Text:       text,
			Confidence: conf,
			Left:       left,
			Top:        top,
			Width:      width,
			Height:     height,
		})
	}
	return words
}

// VisionEngine Google Cloud Vision DOCUMENT_TEXT_DETECTION
type VisionEngine struct {
	client *vision.ImageAnnotatorClient
}

func NewVisionEngine(ctx context.Context, cfg config.OCRConfig) (*VisionEngine, error) {
	var opts []option.ClientOption
	if cfg.VisionCredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.VisionCredentialsFile))
	}
	client, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &VisionEngine{client: client}, nil
}

func (v *VisionEngine) Name() string { return "gcp_vision" }

func (v *VisionEngine) annotate(ctx context.Context, img image.Image) (*visionpb.TextAnnotation, error) {
	data, err := encodePNG(img)
	if err != nil {
		return nil, err
	}
	resp, err := v.client.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image:    &visionpb.Image{Content: data},
			Features: []*visionpb.Feature{{Type: visionpb.Feature_DOCUMENT_TEXT_DETECTION}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("vision annotate: %w", err)
	}
	if len(resp.GetResponses()) == 0 {
		return nil, nil
	}
	r := resp.GetResponses()[0]
	if msg := r.GetError().GetMessage(); msg != "" {
		return nil, fmt.Errorf("vision annotate: %s", msg)
	}
	return r.GetFullTextAnnotation(), nil
}

func (v *VisionEngine) Words(ctx context.Context, img image.Image) ([]Word, error) {
	doc, err := v.annotate(ctx, img)
	if err != nil || doc == nil {
		return nil, err
	}
	var words []Word
	for _, page := range doc.GetPages() {
		for _, block := range page.GetBlocks() {
			for _, para := range block.GetParagraphs() {
				for _, w := range para.GetWords() {
					var sb strings.Builder
					for _, s := range w.GetSymbols() {
						sb.WriteString(s.GetText())
					}
					left, top, right, bottom := verticesBounds(w.GetBoundingBox().GetVertices())
					words = append(words, Word{
						Text:       sb.String(),
						Confidence: float64(w.GetConfidence()) * 100,
						Left:       left,
						Top:        top,
						Width:      right - left,
						Height:     bottom - top,
					})
				}
			}
		}
	}
	return words, nil
}

func (v *VisionEngine) Text(ctx context.Context, img image.Image) (string, error) {
	doc, err := v.annotate(ctx, img)
	if err != nil || doc == nil {
		return "", err
	}
	return strings.TrimSpace(doc.GetText()), nil
}

func (v *VisionEngine) Close() error {
	return v.client.Close()
}

func verticesBounds(vs []*visionpb.Vertex) (left, top, right, bottom int) {
	if len(vs) == 0 {
		return 0, 0, 0, 0
	}
	left, top = int(vs[0].GetX()), int(vs[0].GetY())
	right, bottom = left, top
	for _, v := range vs[1:] {
		x, y := int(v.GetX()), int(v.GetY())
		left, right = min(left, x), max(right, x)
		top, bottom = min(top, y), max(bottom, y)
	}
	return left, top, right, bottom
}
