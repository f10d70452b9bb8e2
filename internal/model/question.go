package model

import (
	"fmt"
	"math"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type QuestionType string

const (
	ShortAnswer QuestionType = "SHORT_ANSWER"
	LongAnswer  QuestionType = "LONG_ANSWER"
	Numerical   QuestionType = "NUMERICAL"
)

func (t QuestionType) Valid() bool {
	return t == ShortAnswer || t == LongAnswer || t == Numerical
}

type StepStatus string

const (
	StepCorrect       StepStatus = "correct"
	StepIncorrect     StepStatus = "incorrect"
	StepLowConfidence StepStatus = "low_confidence"
)

func (s StepStatus) Valid() bool {
	return s == StepCorrect || s == StepIncorrect || s == StepLowConfidence
}

// BBox 页面百分比坐标 (0-100)
type BBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

const bboxEpsilon = 0.05

func (b BBox) Validate() error {
	for _, v := range []float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(v) || v < 0 || v > 100 {
			return fmt.Errorf("bbox value %v out of range [0,100]", v)
		}
	}
	if b.X+b.W > 100+bboxEpsilon || b.Y+b.H > 100+bboxEpsilon {
		return fmt.Errorf("bbox %+v extends past the page", b)
	}
	return nil
}

// FallbackBBox 未检测到区域时按题号切出的水平条带，y = 题号*25，限制在页面内
func FallbackBBox(number int) BBox {
	y := math.Min(float64(number)*25, 75)
	if y < 0 {
		y = 0
	}
	return BBox{X: 0, Y: y, W: 100, H: 25}
}

// Question 会话内的一道题，number 在会话内唯一
// swagger:model Question
type Question struct {
	UUIDBase
	SessionID    string                   `gorm:"type:varchar(36);not null;uniqueIndex:idx_session_question_number" json:"sessionId"`
	Number       int                      `gorm:"not null;uniqueIndex:idx_session_question_number" json:"number"`
	QuestionText string                   `gorm:"type:text" json:"questionText"`
	QuestionType QuestionType             `gorm:"size:32;not null;default:'SHORT_ANSWER'" json:"questionType"`
	MaxMarks     float64                  `gorm:"not null" json:"maxMarks"`
	PageNumber   int                      `gorm:"not null;default:1" json:"pageNumber"`
	BBox         datatypes.JSONType[BBox] `gorm:"column:bbox" json:"bbox"`
	Steps        []QuestionStep           `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"steps"`
	Result       *GradingResult           `gorm:"foreignKey:QuestionID;constraint:OnDelete:CASCADE" json:"result,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

func (q *Question) BeforeSave(tx *gorm.DB) error {
	return q.BBox.Data().Validate()
}

// StepByRef 按 id 或 step_key 查找步骤
func (q *Question) StepByRef(ref string) *QuestionStep {
	for i := range q.Steps {
		if q.Steps[i].ID == ref || q.Steps[i].StepKey == ref {
			return &q.Steps[i]
		}
	}
	return nil
}

// QuestionStep 分步给分点
type QuestionStep struct {
	UUIDBase
	QuestionID    string     `gorm:"type:varchar(36);not null;index" json:"questionId"`
	StepKey       string     `gorm:"size:8;not null" json:"stepKey"`
	Label         string     `gorm:"type:text" json:"label"`
	MaxMarks      float64    `gorm:"not null" json:"maxMarks"`
	ObtainedMarks *float64   `json:"obtainedMarks"`
	AIStatus      StepStatus `gorm:"size:20;not null;default:'low_confidence'" json:"aiStatus"`
	AINote        string     `gorm:"type:text" json:"aiNote"`
	OrderIndex    int        `gorm:"not null;default:0" json:"orderIndex"`
	Overridden    bool       `gorm:"not null;default:false" json:"overridden"`
}

func (QuestionStep) TableName() string {
	return "question_steps"
}
