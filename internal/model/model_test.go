package model

import "testing"

func TestSessionStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusPending, StatusError, true},
		{StatusPending, StatusReady, false},
		{StatusProcessing, StatusReady, true},
		{StatusProcessing, StatusError, true},
		{StatusProcessing, StatusCompleted, false},
		{StatusReady, StatusCompleted, true},
		{StatusReady, StatusProcessing, false},
		{StatusCompleted, StatusReady, false},
		{StatusError, StatusProcessing, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransitionTo(c.to); got != c.want {
			t.Fatalf("%s -> %s: want=%v got=%v", c.from, c.to, c.want, got)
		}
	}
	if !StatusPending.InFlight() || !StatusProcessing.InFlight() || StatusReady.InFlight() {
		t.Fatalf("in-flight statuses are pending and processing only")
	}
}

func TestBBoxValidate(t *testing.T) {
	valid := []BBox{
		{X: 0, Y: 0, W: 100, H: 100},
		{X: 0, Y: 47.5, W: 100, H: 52.5},
		{X: 0, Y: 66.7, W: 100, H: 33.3},
	}
	for _, b := range valid {
		if err := b.Validate(); err != nil {
			t.Fatalf("%+v: unexpected error %v", b, err)
		}
	}

	invalid := []BBox{
		{X: -1, Y: 0, W: 10, H: 10},
		{X: 0, Y: 101, W: 10, H: 10},
		{X: 0, Y: 80, W: 100, H: 30},
		{X: 60, Y: 0, W: 50, H: 10},
	}
	for _, b := range invalid {
		if err := b.Validate(); err == nil {
			t.Fatalf("%+v: want error", b)
		}
	}
}

func TestFallbackBBox(t *testing.T) {
	cases := map[int]float64{1: 25, 2: 50, 3: 75, 4: 75, 9: 75, 0: 0, -2: 0}
	for n, y := range cases {
		b := FallbackBBox(n)
		if b.Y != y || b.H != 25 || b.W != 100 {
			t.Fatalf("FallbackBBox(%d): got %+v", n, b)
		}
		if err := b.Validate(); err != nil {
			t.Fatalf("FallbackBBox(%d) invalid: %v", n, err)
		}
	}
}

func TestStepByRef(t *testing.T) {
	q := Question{Steps: []QuestionStep{
		{UUIDBase: UUIDBase{ID: "s-1"}, StepKey: "a"},
		{UUIDBase: UUIDBase{ID: "s-2"}, StepKey: "b"},
	}}
	if s := q.StepByRef("s-2"); s == nil || s.StepKey != "b" {
		t.Fatalf("lookup by id failed: %+v", s)
	}
	if s := q.StepByRef("a"); s == nil || s.ID != "s-1" {
		t.Fatalf("lookup by key failed: %+v", s)
	}
	if q.StepByRef("z") != nil {
		t.Fatalf("unknown ref should return nil")
	}
}

func TestAnswerKeyScheme(t *testing.T) {
	key := AnswerKey{Questions: []AnswerKeyQuestion{
		{Number: 1, QuestionType: ShortAnswer, MaxMarks: 2},
		{Number: 2, QuestionType: Numerical, MaxMarks: 3, Steps: []AnswerKeyStep{
			{StepKey: "a", MaxMarks: 1.5}, {StepKey: "b", MaxMarks: 1.5},
		}},
	}}
	if key.TotalMarks() != 5 || key.QuestionCount() != 2 {
		t.Fatalf("totals: got %v/%d", key.TotalMarks(), key.QuestionCount())
	}
	scheme := key.Scheme()
	if len(scheme[1].Steps) != 2 || scheme[1].Steps[1].Key != "b" || scheme[0].Steps == nil {
		t.Fatalf("scheme: got %+v", scheme)
	}
	if SchemeTotal(DefaultScheme()) != 10 {
		t.Fatalf("default scheme total: want=10 got=%v", SchemeTotal(DefaultScheme()))
	}
}
