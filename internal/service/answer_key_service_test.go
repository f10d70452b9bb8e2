package service

import (
	"context"
	"errors"
	"gradeglide_backend/internal/model"
	"gradeglide_backend/internal/repository"
	"gradeglide_backend/internal/testutil"
	"gradeglide_backend/internal/util"
	"testing"
)

func sampleKeyRequest() AnswerKeyRequest {
	return AnswerKeyRequest{
		Title:     " Unit 3 key ",
		Subject:   "Physics",
		ExamTitle: "Unit Test 3",
		Questions: []model.SchemeQuestion{
			{Number: 2, QuestionType: model.Numerical, QuestionText: "Find R.", MaxMarks: 3, Steps: []model.SchemeStep{
				{Key: "A", Label: "Formula", MaxMarks: 1},
				{Key: "b", Label: "Substitution", MaxMarks: 1},
				{Key: "c", Label: "Answer", MaxMarks: 1},
			}},
			{Number: 1, QuestionType: model.ShortAnswer, QuestionText: "State Ohm's law.", MaxMarks: 2},
		},
	}
}

func TestValidateScheme(t *testing.T) {
	cases := []struct {
		name string
		q    []model.SchemeQuestion
	}{
		{"zero number", []model.SchemeQuestion{{Number: 0, QuestionType: model.ShortAnswer, MaxMarks: 1}}},
		{"duplicate number", []model.SchemeQuestion{
			{Number: 1, QuestionType: model.ShortAnswer, MaxMarks: 1},
			{Number: 1, QuestionType: model.ShortAnswer, MaxMarks: 1},
		}},
		{"bad type", []model.SchemeQuestion{{Number: 1, QuestionType: "ESSAY", MaxMarks: 1}}},
		{"no marks", []model.SchemeQuestion{{Number: 1, QuestionType: model.ShortAnswer}}},
		{"duplicate step", []model.SchemeQuestion{{Number: 1, QuestionType: model.LongAnswer, MaxMarks: 2, Steps: []model.SchemeStep{
			{Key: "a", MaxMarks: 1}, {Key: "A", MaxMarks: 1},
		}}}},
	}
	for _, c := range cases {
		if err := ValidateScheme(c.q); !errors.Is(err, util.ErrInvalidAnswerKey) {
			t.Fatalf("%s: want ErrInvalidAnswerKey got %v", c.name, err)
		}
	}

	if err := ValidateScheme(model.DefaultScheme()); err != nil {
		t.Fatalf("default scheme should validate: %v", err)
	}
}

func TestAnswerKeyLifecycle(t *testing.T) {
	svc := NewAnswerKeyService(repository.NewAnswerKeyRepository(testutil.NewDB(t)))
	ctx := context.Background()

	key, err := svc.Create(ctx, sampleKeyRequest())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if key.Title != "Unit 3 key" || key.QuestionCount != 2 || key.TotalMarks != 5 {
		t.Fatalf("summary: got %+v", key.AnswerKeySummary)
	}
	// 题目按题号排序，步骤键统一小写
	if key.Questions[0].Number != 1 || key.Questions[1].Steps[0].Key != "a" {
		t.Fatalf("scheme: got %+v", key.Questions)
	}
	if key.Questions[0].Steps == nil {
		t.Fatalf("short answer steps should be an empty list")
	}

	list, err := svc.List(ctx)
	if err != nil || len(list) != 1 || list[0].ID != key.ID {
		t.Fatalf("list: got %v err=%v", list, err)
	}

	if err := svc.Delete(ctx, key.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, key.ID); !errors.Is(err, util.ErrAnswerKeyNotFound) {
		t.Fatalf("get after delete: want ErrAnswerKeyNotFound got %v", err)
	}
	if err := svc.Delete(ctx, key.ID); !errors.Is(err, util.ErrAnswerKeyNotFound) {
		t.Fatalf("second delete: want ErrAnswerKeyNotFound got %v", err)
	}
}
