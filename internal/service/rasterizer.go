package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Page 栅格化后的一页，页码从 1 开始
type Page struct {
	Number int
	Image  image.Image
}

// PageRasterizer 把上传文件转成有序页面
type PageRasterizer interface {
	Rasterize(ctx context.Context, filename string, data []byte) ([]Page, error)
}

type Rasterizer struct {
	cfg     config.RasterizerConfig
	workDir string
}

func NewRasterizer(cfg config.RasterizerConfig, workDir string) *Rasterizer {
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	if cfg.PdftoppmPath == "" {
		cfg.PdftoppmPath = "pdftoppm"
	}
	return &Rasterizer{cfg: cfg, workDir: workDir}
}

func (r *Rasterizer) Rasterize(ctx context.Context, filename string, data []byte) ([]Page, error) {
	if len(data) == 0 {
		return nil, util.ErrEmptyUpload
	}

	switch {
	case util.IsPDF(filename, data):
		return r.rasterizePDF(ctx, data)
	case util.Ext(filename) == ".heic" || util.Ext(filename) == ".heif":
		img, err := r.convertWithFFmpeg(ctx, filename, data)
		if err != nil {
			return nil, err
		}
		return []Page{{Number: 1, Image: img}}, nil
	default:
		img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
		if err != nil {
			return nil, fmt.Errorf("%w: decode %s: %v", util.ErrUnsupportedFileType, filename, err)
		}
		return []Page{{Number: 1, Image: img}}, nil
	}
}

func (r *Rasterizer) tempDir() (string, error) {
	base := r.workDir
	if base != "" {
		if err := os.MkdirAll(base, 0755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(base, "raster-*")
}

var pageFilePattern = regexp.MustCompile(`-(\d+)\.png$`)

func (r *Rasterizer) rasterizePDF(ctx context.Context, data []byte) ([]Page, error) {
	if _, err := exec.LookPath(r.cfg.PdftoppmPath); err != nil {
		return nil, fmt.Errorf("%w: pdftoppm not found", util.ErrToolUnavailable)
	}

	dir, err := r.tempDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	pdfPath := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(pdfPath, data, 0644); err != nil {
		return nil, err
	}

	prefix := filepath.Join(dir, "page")
	cmd := exec.CommandContext(ctx, r.cfg.PdftoppmPath, "-r", strconv.Itoa(r.cfg.DPI), "-png", pdfPath, prefix)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	files, err := filepath.Glob(filepath.Join(dir, "page-*.png"))
	if err != nil {
		return nil, err
	}

	type numbered struct {
		n    int
		path string
	}
	var ordered []numbered
	for _, f := range files {
		m := pageFilePattern.FindStringSubmatch(f)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		ordered = append(ordered, numbered{n: n, path: f})
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].n < ordered[j].n })

	pages := make([]Page, 0, len(ordered))
	for i, f := range ordered {
		img, err := imaging.Open(f.path)
		if err != nil {
			return nil, fmt.Errorf("open rasterized page %d: %w", f.n, err)
		}
		pages = append(pages, Page{Number: i + 1, Image: img})
	}

	if len(pages) == 0 {
		return nil, util.ErrNoPages
	}

	logger.Log.Debug("PDF rasterized", zap.Int("pages", len(pages)), zap.Int("dpi", r.cfg.DPI))
	return pages, nil
}

func (r *Rasterizer) convertWithFFmpeg(ctx context.Context, filename string, data []byte) (image.Image, error) {
	if !util.FFmpegAvailable() {
		return nil, fmt.Errorf("%w: ffmpeg required for %s", util.ErrToolUnavailable, util.Ext(filename))
	}

	dir, err := r.tempDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "input"+util.Ext(filename))
	if err := os.WriteFile(src, data, 0644); err != nil {
		return nil, err
	}
	dst := filepath.Join(dir, "converted.png")
	if err := util.ConvertImageToPNG(ctx, src, dst); err != nil {
		return nil, err
	}

	img, err := imaging.Open(dst)
	if err != nil {
		return nil, errors.Join(util.ErrUnsupportedFileType, err)
	}
	return img, nil
}
