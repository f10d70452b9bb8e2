package service

import (
	"context"
	"fmt"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/util"
	"gradeglide_backend/pkg/logger"
	"strings"
	"time"

	"go.uber.org/zap"
)

// AnswerKeyRequest 教师审核后提交的答案键
type AnswerKeyRequest struct {
	Title     string                 `json:"title" binding:"required"`
	Subject   string                 `json:"subject" binding:"required"`
	ExamTitle string                 `json:"exam_title"`
	Questions []model.SchemeQuestion `json:"questions" binding:"required,min=1,dive"`
}

type AnswerKeySummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Subject       string    `json:"subject"`
	ExamTitle     string    `json:"examTitle"`
	QuestionCount int       `json:"questionCount"`
	TotalMarks    float64   `json:"totalMarks"`
	CreatedAt     time.Time `json:"createdAt"`
}

type AnswerKeyDetail struct {
	AnswerKeySummary
	Questions []model.SchemeQuestion `json:"questions"`
}

type AnswerKeyService struct {
	KeyRepo *repository.AnswerKeyRepository
}

func NewAnswerKeyService(keyRepo *repository.AnswerKeyRepository) *AnswerKeyService {
	return &AnswerKeyService{KeyRepo: keyRepo}
}

func toKeySummary(k *model.AnswerKey) AnswerKeySummary {
	return AnswerKeySummary{
		ID:            k.ID,
		Title:         k.Title,
		Subject:       k.Subject,
		ExamTitle:     k.ExamTitle,
		QuestionCount: k.QuestionCount(),
		TotalMarks:    k.TotalMarks(),
		CreatedAt:     k.CreatedAt,
	}
}

// ValidateScheme 题号与步骤键不可重复
func ValidateScheme(questions []model.SchemeQuestion) error {
	seen := make(map[int]bool, len(questions))
	for _, q := range questions {
		if q.Number <= 0 {
			return fmt.Errorf("%w: question number must be positive", util.ErrInvalidAnswerKey)
		}
		if seen[q.Number] {
			return fmt.Errorf("%w: duplicate question number %d", util.ErrInvalidAnswerKey, q.Number)
		}
		seen[q.Number] = true
		if !q.QuestionType.Valid() {
			return fmt.Errorf("%w: question %d has unknown type %q", util.ErrInvalidAnswerKey, q.Number, q.QuestionType)
		}
		if q.MaxMarks <= 0 {
			return fmt.Errorf("%w: question %d needs positive max marks", util.ErrInvalidAnswerKey, q.Number)
		}
		keys := make(map[string]bool, len(q.Steps))
		for _, s := range q.Steps {
			k := strings.ToLower(strings.TrimSpace(s.Key))
			if k == "" || keys[k] {
				return fmt.Errorf("%w: question %d has empty or duplicate step key %q", util.ErrInvalidAnswerKey, q.Number, s.Key)
			}
			keys[k] = true
			if s.MaxMarks < 0 {
				return fmt.Errorf("%w: question %d step %s has negative marks", util.ErrInvalidAnswerKey, q.Number, s.Key)
			}
		}
	}
	return nil
}

func (s *AnswerKeyService) Create(ctx context.Context, req AnswerKeyRequest) (*AnswerKeyDetail, error) {
	if err := ValidateScheme(req.Questions); err != nil {
		return nil, err
	}

	key := &model.AnswerKey{
		Title:     strings.TrimSpace(req.Title),
		Subject:   strings.TrimSpace(req.Subject),
		ExamTitle: strings.TrimSpace(req.ExamTitle),
		Questions: make([]model.AnswerKeyQuestion, 0, len(req.Questions)),
	}
	for _, q := range req.Questions {
		kq := model.AnswerKeyQuestion{
			Number:       q.Number,
			QuestionText: q.QuestionText,
			QuestionType: q.QuestionType,
			MaxMarks:     q.MaxMarks,
			Steps:        make([]model.AnswerKeyStep, 0, len(q.Steps)),
		}
		for i, st := range q.Steps {
			kq.Steps = append(kq.Steps, model.AnswerKeyStep{
				StepKey:    strings.ToLower(strings.TrimSpace(st.Key)),
				Label:      st.Label,
				MaxMarks:   st.MaxMarks,
				OrderIndex: i,
			})
		}
		key.Questions = append(key.Questions, kq)
	}

	if err := s.KeyRepo.Create(ctx, key); err != nil {
		return nil, err
	}

	logger.Log.Info("Answer key created",
		zap.String("answer_key_id", key.ID),
		zap.Int("questions", key.QuestionCount()),
	)
	return s.Get(ctx, key.ID)
}

func (s *AnswerKeyService) List(ctx context.Context) ([]AnswerKeySummary, error) {
	keys, err := s.KeyRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AnswerKeySummary, 0, len(keys))
	for i := range keys {
		out = append(out, toKeySummary(&keys[i]))
	}
	return out, nil
}

func (s *AnswerKeyService) Get(ctx context.Context, id string) (*AnswerKeyDetail, error) {
	key, err := s.KeyRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &AnswerKeyDetail{
		AnswerKeySummary: toKeySummary(key),
		Questions:        key.Scheme(),
	}, nil
}

// Exists 上传时校验 answer_key_id
func (s *AnswerKeyService) Exists(ctx context.Context, id string) error {
	_, err := s.KeyRepo.FindByID(ctx, id)
	return err
}

func (s *AnswerKeyService) Delete(ctx context.Context, id string) error {
	if err := s.KeyRepo.Delete(ctx, id); err != nil {
		return err
	}
	logger.Log.Info("Answer key deleted", zap.String("answer_key_id", id))
	return nil
}
