package service

import (
	"context"
	"errors"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/internal/util"
	"testing"
)

func TestRasterizeImage(t *testing.T) {
	r := NewRasterizer(config.RasterizerConfig{}, t.TempDir())
	pages, err := r.Rasterize(context.Background(), "scan.png", pngBytes(t, blankPage(40, 60)))
	if err != nil {
		t.Fatalf("rasterize: %v", err)
	}
	if len(pages) != 1 || pages[0].Number != 1 {
		t.Fatalf("pages: got %+v", pages)
	}
	if b := pages[0].Image.Bounds(); b.Dx() != 40 || b.Dy() != 60 {
		t.Fatalf("size: got %dx%d", b.Dx(), b.Dy())
	}
}

func TestRasterizeRejectsBadInput(t *testing.T) {
	r := NewRasterizer(config.RasterizerConfig{}, t.TempDir())

	if _, err := r.Rasterize(context.Background(), "scan.png", nil); !errors.Is(err, util.ErrEmptyUpload) {
		t.Fatalf("empty: want ErrEmptyUpload got %v", err)
	}
	if _, err := r.Rasterize(context.Background(), "scan.jpg", []byte("definitely not a jpeg")); !errors.Is(err, util.ErrUnsupportedFileType) {
		t.Fatalf("garbage: want ErrUnsupportedFileType got %v", err)
	}
}

func TestRasterizePDFWithoutPdftoppm(t *testing.T) {
	r := NewRasterizer(config.RasterizerConfig{PdftoppmPath: "/nonexistent/pdftoppm"}, t.TempDir())
	if _, err := r.Rasterize(context.Background(), "scan.pdf", []byte("%PDF-1.4")); !errors.Is(err, util.ErrToolUnavailable) {
		t.Fatalf("want ErrToolUnavailable got %v", err)
	}
}
