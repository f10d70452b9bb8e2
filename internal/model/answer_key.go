package model

// AnswerKey 可复用的评分方案，题目与步骤拆成子表存储
// swagger:model AnswerKey
type AnswerKey struct {
	UUIDBase
	Title     string              `gorm:"size:255;not null" json:"title"`
	Subject   string              `gorm:"size:128" json:"subject"`
	ExamTitle string              `gorm:"size:255" json:"examTitle"`
	Questions []AnswerKeyQuestion `gorm:"foreignKey:AnswerKeyID;constraint:OnDelete:CASCADE" json:"questions"`
}

func (AnswerKey) TableName() string {
	return "answer_keys"
}

func (k *AnswerKey) QuestionCount() int {
	return len(k.Questions)
}

func (k *AnswerKey) TotalMarks() float64 {
	var total float64
	for _, q := range k.Questions {
		total += q.MaxMarks
	}
	return total
}

// Scheme 转为流水线使用的评分方案
func (k *AnswerKey) Scheme() []SchemeQuestion {
	out := make([]SchemeQuestion, 0, len(k.Questions))
	for _, q := range k.Questions {
		sq := SchemeQuestion{
			Number:       q.Number,
			QuestionType: q.QuestionType,
			QuestionText: q.QuestionText,
			MaxMarks:     q.MaxMarks,
			Steps:        make([]SchemeStep, 0, len(q.Steps)),
		}
		for _, s := range q.Steps {
			sq.Steps = append(sq.Steps, SchemeStep{Key: s.StepKey, Label: s.Label, MaxMarks: s.MaxMarks})
		}
		out = append(out, sq)
	}
	return out
}

type AnswerKeyQuestion struct {
	UUIDBase
	AnswerKeyID  string          `gorm:"type:varchar(36);not null;uniqueIndex:idx_key_question_number" json:"answerKeyId"`
	Number       int             `gorm:"not null;uniqueIndex:idx_key_question_number" json:"number"`
	QuestionText string          `gorm:"type:text" json:"questionText"`
	QuestionType QuestionType    `gorm:"size:32;not null" json:"questionType"`
	MaxMarks     float64         `gorm:"not null" json:"maxMarks"`
	Steps        []AnswerKeyStep `gorm:"foreignKey:AnswerKeyQuestionID;constraint:OnDelete:CASCADE" json:"steps"`
}

func (AnswerKeyQuestion) TableName() string {
	return "answer_key_questions"
}

type AnswerKeyStep struct {
	UUIDBase
	AnswerKeyQuestionID string  `gorm:"type:varchar(36);not null;index" json:"answerKeyQuestionId"`
	StepKey             string  `gorm:"size:8;not null" json:"stepKey"`
	Label               string  `gorm:"type:text" json:"label"`
	MaxMarks            float64 `gorm:"not null" json:"maxMarks"`
	OrderIndex          int     `gorm:"not null;default:0" json:"orderIndex"`
}

func (AnswerKeyStep) TableName() string {
	return "answer_key_steps"
}
