package service

import (
	"bytes"
	"context"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/util"
	"image"
	"image/color"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

var statusColors = map[string]color.RGBA{
	StatusCorrect:   {R: 34, G: 160, B: 80, A: 255},
	StatusPartial:   {R: 230, G: 150, B: 20, A: 255},
	StatusIncorrect: {R: 210, G: 45, B: 45, A: 255},
}

var (
	fontOnce   sync.Once
	parsedFont *truetype.Font
	fontErr    error
)

func labelFace(size float64) (font.Face, error) {
	fontOnce.Do(func() {
		parsedFont, fontErr = truetype.Parse(goregular.TTF)
	})
	if fontErr != nil {
		return nil, fmt.Errorf("failed to parse TTF: %w", fontErr)
	}
	return truetype.NewFace(parsedFont, &truetype.Options{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingNone,
	}), nil
}

// AnnotateService 在页面上画出题目区域和得分
type AnnotateService struct {
	SessionRepo *repository.SessionRepository
	Storage     StorageProvider
}

func NewAnnotateService(sessionRepo *repository.SessionRepository, storage StorageProvider) *AnnotateService {
	return &AnnotateService{SessionRepo: sessionRepo, Storage: storage}
}

// AnnotatedPage 返回 PNG
func (s *AnnotateService) AnnotatedPage(ctx context.Context, sessionID string, pageNumber int) ([]byte, error) {
	session, err := s.SessionRepo.FindDetail(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var page *model.AnswerSheetImage
	for i := range session.Images {
		if session.Images[i].PageNumber == pageNumber {
			page = &session.Images[i]
			break
		}
	}
	if page == nil {
		return nil, util.ErrPageNotFound
	}

	rc, err := s.Storage.Open(ctx, page.FilePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	img, err := imaging.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode page %d: %w", pageNumber, err)
	}

	var onPage []model.Question
	for _, q := range session.Questions {
		if q.PageNumber == pageNumber {
			onPage = append(onPage, q)
		}
	}
	return Annotate(img, onPage)
}

// Annotate 按 bbox 百分比画框，左上角标注 "Q1 1.5/2"
func Annotate(img image.Image, questions []model.Question) ([]byte, error) {
	b := img.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())

	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)

	fontSize := max(14, h/60)
	face, err := labelFace(fontSize)
	if err != nil {
		return nil, err
	}
	dc.SetFontFace(face)
	lineWidth := max(2, w/400)

	for _, q := range questions {
		box := q.BBox.Data()
		x, y := box.X/100*w, box.Y/100*h
		bw, bh := box.W/100*w, box.H/100*h

		var obtained *float64
		if q.Result != nil {
			obtained = q.Result.ObtainedMarks
		}
		c := statusColors[DeriveStatus(obtained, q.MaxMarks)]

		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(x+lineWidth/2, y+lineWidth/2, bw-lineWidth, bh-lineWidth)
		dc.Stroke()

		label := questionLabel(q.Number, obtained, q.MaxMarks)
		tw, th := dc.MeasureString(label)
		pad := fontSize / 3
		dc.SetColor(c)
		dc.DrawRectangle(x, y, tw+2*pad, th+2*pad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawString(label, x+pad, y+pad+th)
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func questionLabel(number int, obtained *float64, maxMarks float64) string {
	got := "?"
	if obtained != nil {
		got = util.FormatMarks(obtained)
	}
	return fmt.Sprintf("Q%d %s/%s", number, got, util.FormatMarks(&maxMarks))
}
