package service

import (
	"bytes"
	"context"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"gradeglide_backend/pkg/monitoring"
	"image"
	"strings"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"
)

const (
	RemarkNoModel     = "Grading model API key not configured. Please enter marks manually."
	RemarkUnparsable  = "Could not parse AI response. Please verify manually."
	noteNoModel       = "Manual review required — grading model not configured"
	noteUnparsable    = "Manual review required — AI response unusable"
	blankAnswerMarker = "[No readable text — likely blank or illegible]"
)

const gradingPrompt = `You are an experienced school teacher grading a student's handwritten exam answer.

QUESTION: %s
QUESTION TYPE: %s
MAX MARKS: %s

MARKING SCHEME:
%s

STUDENT'S ANSWER (OCR transcription):
%s

Grade strictly against the marking scheme and give partial credit where the scheme allows.
Reply with JSON only, in exactly this shape:
{
  "obtained_marks": <number>,
  "confidence": "<high|medium|low>",
  "ai_remark": "<one sentence of feedback>",
  "steps": [
    {"step_key": "<letter>", "obtained_marks": <number>, "ai_status": "<correct|incorrect|low_confidence>", "ai_note": "<short note>"}
  ]
}

Rules:
- confidence is "high" only when the handwriting is clear and the answer unambiguous
- confidence is "low" when the transcription looks garbled or illegible
- steps is an empty list for SHORT_ANSWER questions
`

// GradeRequest 单题评分输入
type GradeRequest struct {
	Question   model.SchemeQuestion
	Transcript string
	Image      image.Image
}

type StepGrade struct {
	Key           string           `json:"step_key"`
	ObtainedMarks *float64         `json:"obtained_marks"`
	Status        model.StepStatus `json:"ai_status"`
	Note          string           `json:"ai_note"`
}

// Grading 单题评分输出，Fallback 为 true 时所有分数为空
type Grading struct {
	ObtainedMarks *float64         `json:"obtained_marks"`
	Confidence    model.Confidence `json:"confidence"`
	Remark        string           `json:"ai_remark"`
	Steps         []StepGrade      `json:"steps"`
	Fallback      bool             `json:"-"`
}

type GraderService struct {
	models *ModelProvider
}

func NewGraderService(models *ModelProvider) *GraderService {
	return &GraderService{models: models}
}

// RenderScheme 评分方案的文本形式
func RenderScheme(q model.SchemeQuestion) string {
	if len(q.Steps) == 0 {
		return fmt.Sprintf("Award marks for a correct and complete answer. Total: %s", util.FormatMarks(&q.MaxMarks))
	}
	lines := make([]string, 0, len(q.Steps))
	for _, s := range q.Steps {
		unit := "marks"
		if s.MaxMarks == 1 {
			unit = "mark"
		}
		lines = append(lines, fmt.Sprintf("  Step %s: %s (%s %s)", s.Key, s.Label, util.FormatMarks(&s.MaxMarks), unit))
	}
	return strings.Join(lines, "\n")
}

func BuildGradingPrompt(req GradeRequest) string {
	transcript := strings.TrimSpace(req.Transcript)
	if transcript == "" {
		transcript = blankAnswerMarker
	}
	return fmt.Sprintf(gradingPrompt,
		req.Question.QuestionText,
		req.Question.QuestionType,
		util.FormatMarks(&req.Question.MaxMarks),
		RenderScheme(req.Question),
		transcript,
	)
}

// Grade 永不返回错误：无模型、调用失败或响应无法解析时给出待人工复核的结果
func (g *GraderService) Grade(ctx context.Context, req GradeRequest) Grading {
	client, timeout, release := g.models.Acquire()
	defer release()
	if client == nil {
		monitoring.GradingFallbacks.WithLabelValues("no_model").Inc()
		return FallbackGrading(req.Question, RemarkNoModel, noteNoModel)
	}

	var images []ImagePart
	if req.Image != nil {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, req.Image, imaging.JPEG, imaging.JPEGQuality(85)); err == nil {
			images = append(images, ImagePart{MIMEType: "image/jpeg", Data: buf.Bytes()})
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	raw, err := client.Generate(callCtx, BuildGradingPrompt(req), images...)
	if err != nil {
		logger.Log.Warn("Grading call failed",
			zap.String("model", client.Name()),
			zap.Int("q_number", req.Question.Number),
			zap.Error(err),
		)
		monitoring.GradingFallbacks.WithLabelValues("call_failed").Inc()
		return FallbackGrading(req.Question, RemarkUnparsable, noteUnparsable)
	}

	var out Grading
	if err := util.ParseModelJSON(raw, &out); err != nil {
		logger.Log.Warn("Grading response unparsable",
			zap.Int("q_number", req.Question.Number),
			zap.String("raw", util.Truncate(raw, 500)),
			zap.Error(err),
		)
		monitoring.GradingFallbacks.WithLabelValues("unparsable").Inc()
		return FallbackGrading(req.Question, RemarkUnparsable, noteUnparsable)
	}

	return NormalizeGrading(req.Question, out)
}

// FallbackGrading 全部分数为空、低置信度
func FallbackGrading(q model.SchemeQuestion, remark, note string) Grading {
	steps := make([]StepGrade, 0, len(q.Steps))
	for _, s := range q.Steps {
		steps = append(steps, StepGrade{
			Key:    s.Key,
			Status: model.StepLowConfidence,
			Note:   note,
		})
	}
	return Grading{
		Confidence: model.ConfidenceLow,
		Remark:     remark,
		Steps:      steps,
		Fallback:   true,
	}
}

// NormalizeGrading 按方案对齐步骤并修正越界值
func NormalizeGrading(q model.SchemeQuestion, in Grading) Grading {
	out := Grading{
		Confidence: in.Confidence,
		Remark:     strings.TrimSpace(in.Remark),
	}
	if !out.Confidence.Valid() {
		out.Confidence = model.ConfidenceLow
	}

	byKey := make(map[string]StepGrade, len(in.Steps))
	for _, s := range in.Steps {
		byKey[strings.ToLower(strings.TrimSpace(s.Key))] = s
	}

	var stepSum float64
	stepsGraded := false
	out.Steps = make([]StepGrade, 0, len(q.Steps))
	for _, s := range q.Steps {
		got, ok := byKey[s.Key]
		if !ok {
			out.Steps = append(out.Steps, StepGrade{Key: s.Key, Status: model.StepLowConfidence, Note: noteUnparsable})
			continue
		}
		sg := StepGrade{Key: s.Key, Status: got.Status, Note: strings.TrimSpace(got.Note)}
		if !sg.Status.Valid() {
			sg.Status = model.StepLowConfidence
		}
		if got.ObtainedMarks != nil {
			v := util.ClampMarks(*got.ObtainedMarks, s.MaxMarks)
			sg.ObtainedMarks = &v
			stepSum += v
			stepsGraded = true
		}
		out.Steps = append(out.Steps, sg)
	}

	switch {
	case stepsGraded:
		// 有步骤分时题目得分为步骤之和
		v := util.ClampMarks(stepSum, q.MaxMarks)
		out.ObtainedMarks = &v
	case in.ObtainedMarks != nil:
		v := util.ClampMarks(*in.ObtainedMarks, q.MaxMarks)
		out.ObtainedMarks = &v
	}

	return out
}
