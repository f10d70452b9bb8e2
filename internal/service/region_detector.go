package service

import (
	"context"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"gradeglide_backend/pkg/monitoring"
	"image"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	anchorMinConfidence = 40
	anchorMarginPx      = 5
)

var anchorPattern = regexp.MustCompile(`^[Qq]?(\d+)[.\-:)]?$`)

// Region 一道题在页面上的区域
type Region struct {
	QNum    int
	BBox    model.BBox
	Crop    image.Image
	RawText string

	// Fallback 页面上没有锚点，整页当作第 1 题
	Fallback bool
}

// 无 OCR 时的演示区域 (起止百分比)
var syntheticRegions = []struct {
	start, end float64
	text       string
}{
	{0, 30, "Ohm's law states V = IR. Current proportional to voltage."},
	{30, 73, "Transformer uses mutual induction to step up/down AC voltage."},
	{73, 95, "R = V x I [wrong formula, struck through]"},
}

type RegionDetector struct {
	engine OCREngine
}

func NewRegionDetector(engine OCREngine) *RegionDetector {
	return &RegionDetector{engine: engine}
}

type anchor struct {
	qnum int
	top  int
}

// ParseAnchor 判断 OCR 词是否为题号锚点
func ParseAnchor(w Word) (int, bool) {
	if w.Confidence <= anchorMinConfidence {
		return 0, false
	}
	m := anchorPattern.FindStringSubmatch(strings.TrimSpace(w.Text))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Detect 按题号锚点把页面纵向切分；只按锚点顶部排序，双栏版面会错序
func (d *RegionDetector) Detect(ctx context.Context, page image.Image) ([]Region, error) {
	if d.engine == nil {
		monitoring.RegionsDetected.WithLabelValues("synthetic").Add(float64(len(syntheticRegions)))
		return d.synthetic(page), nil
	}

	words, err := d.engine.Words(ctx, page)
	if err != nil {
		return nil, err
	}

	var anchors []anchor
	for _, w := range words {
		if n, ok := ParseAnchor(w); ok {
			anchors = append(anchors, anchor{qnum: n, top: w.Top})
		}
	}
	sort.SliceStable(anchors, func(i, j int) bool { return anchors[i].top < anchors[j].top })

	if len(anchors) == 0 {
		text, err := d.engine.Text(ctx, page)
		if err != nil {
			logger.Log.Warn("Whole-page OCR failed, using word boxes", zap.Error(err))
			text = joinWords(words, 0, page.Bounds().Dy())
		}
		monitoring.RegionsDetected.WithLabelValues("whole_page").Inc()
		return []Region{{
			QNum:     1,
			BBox:     model.BBox{X: 0, Y: 0, W: 100, H: 100},
			Crop:     page,
			RawText:  text,
			Fallback: true,
		}}, nil
	}

	bounds := page.Bounds()
	height := bounds.Dy()
	width := bounds.Dx()

	regions := make([]Region, 0, len(anchors))
	for i, a := range anchors {
		yStart := max(0, a.top-anchorMarginPx)
		yEnd := height
		if i+1 < len(anchors) {
			yEnd = min(height, anchors[i+1].top-anchorMarginPx)
		}
		if yEnd <= yStart {
			yEnd = min(height, yStart+1)
		}

		crop := imaging.Crop(page, image.Rect(bounds.Min.X, bounds.Min.Y+yStart, bounds.Max.X, bounds.Min.Y+yEnd))
		text, err := d.engine.Text(ctx, crop)
		if err != nil {
			logger.Log.Warn("Region OCR failed, using word boxes",
				zap.Int("q_num", a.qnum),
				zap.Error(err),
			)
			text = joinWords(words, yStart, yEnd)
		}

		regions = append(regions, Region{
			QNum:    a.qnum,
			BBox:    pctBand(yStart, yEnd, height),
			Crop:    crop,
			RawText: text,
		})
	}

	monitoring.RegionsDetected.WithLabelValues("anchored").Add(float64(len(regions)))
	logger.Log.Debug("Regions detected",
		zap.Int("anchors", len(anchors)),
		zap.Int("page_width", width),
		zap.Int("page_height", height),
	)
	return regions, nil
}

func (d *RegionDetector) synthetic(page image.Image) []Region {
	bounds := page.Bounds()
	h := float64(bounds.Dy())
	regions := make([]Region, 0, len(syntheticRegions))
	for i, s := range syntheticRegions {
		y0 := int(s.start / 100 * h)
		y1 := max(y0+1, int(s.end/100*h))
		regions = append(regions, Region{
			QNum:    i + 1,
			BBox:    model.BBox{X: 0, Y: s.start, W: 100, H: s.end - s.start},
			Crop:    imaging.Crop(page, image.Rect(bounds.Min.X, bounds.Min.Y+y0, bounds.Max.X, bounds.Min.Y+y1)),
			RawText: s.text,
		})
	}
	return regions
}

// pctBand 先对起止取整再求高度，保证 y+h 不超过 100
func pctBand(yStart, yEnd, height int) model.BBox {
	y := util.Round1(float64(yStart) / float64(height) * 100)
	end := util.Round1(float64(yEnd) / float64(height) * 100)
	return model.BBox{X: 0, Y: y, W: 100, H: util.Round1(end - y)}
}

// joinWords 拼接落在 [yStart, yEnd) 内的词
func joinWords(words []Word, yStart, yEnd int) string {
	var parts []string
	for _, w := range words {
		if w.Top >= yStart && w.Top < yEnd {
			parts = append(parts, w.Text)
		}
	}
	return strings.Join(parts, " ")
}
