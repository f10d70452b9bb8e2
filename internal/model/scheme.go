package model

// SchemeStep / SchemeQuestion 与模型交互及答案键编辑时使用的评分方案格式
type SchemeStep struct {
	Key      string  `json:"step_key" binding:"required,len=1"`
	Label    string  `json:"label" binding:"required"`
	MaxMarks float64 `json:"max_marks" binding:"gte=0"`
}

type SchemeQuestion struct {
	Number       int          `json:"q_number" binding:"required,gte=1"`
	QuestionType QuestionType `json:"type" binding:"required,oneof=SHORT_ANSWER LONG_ANSWER NUMERICAL"`
	QuestionText string       `json:"text"`
	MaxMarks     float64      `json:"max_marks" binding:"gt=0"`
	Steps        []SchemeStep `json:"steps" binding:"dive"`
}

// SchemeTotal 方案满分
func SchemeTotal(scheme []SchemeQuestion) float64 {
	var total float64
	for _, q := range scheme {
		total += q.MaxMarks
	}
	return total
}

// DefaultScheme 未选择答案键时使用的示例方案
func DefaultScheme() []SchemeQuestion {
	return []SchemeQuestion{
		{
			Number:       1,
			QuestionType: ShortAnswer,
			QuestionText: "Define Ohm's Law.",
			MaxMarks:     2,
			Steps:        []SchemeStep{},
		},
		{
			Number:       2,
			QuestionType: LongAnswer,
			QuestionText: "Explain the working of a transformer.",
			MaxMarks:     5,
			Steps: []SchemeStep{
				{Key: "a", Label: "Principle of mutual induction stated", MaxMarks: 1},
				{Key: "b", Label: "Working explanation (step-up / step-down)", MaxMarks: 1},
				{Key: "c", Label: "Labelled diagram of transformer", MaxMarks: 2},
				{Key: "d", Label: "Formula: Vs/Vp = Ns/Np", MaxMarks: 1},
			},
		},
		{
			Number:       3,
			QuestionType: Numerical,
			QuestionText: "Calculate the equivalent resistance (R1=4Ω, R2=6Ω in parallel).",
			MaxMarks:     3,
			Steps: []SchemeStep{
				{Key: "a", Label: "Correct formula: 1/R = 1/R1 + 1/R2", MaxMarks: 1},
				{Key: "b", Label: "Correct substitution of values", MaxMarks: 1},
				{Key: "c", Label: "Final answer with correct unit (Ω)", MaxMarks: 1},
			},
		},
	}
}
