package model

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) Valid() bool {
	return c == ConfidenceHigh || c == ConfidenceMedium || c == ConfidenceLow
}

// GradingResult 每道题最多一条；Overridden 表示分数已被人工修改
type GradingResult struct {
	UUIDBase
	QuestionID    string     `gorm:"type:varchar(36);not null;uniqueIndex" json:"questionId"`
	ObtainedMarks *float64   `json:"obtainedMarks"`
	Confidence    Confidence `gorm:"size:10;not null;default:'low'" json:"confidence"`
	AIRemark      string     `gorm:"type:text" json:"aiRemark"`
	Transcript    string     `gorm:"type:text" json:"transcript"`
	IsFinalised   bool       `gorm:"not null;default:false" json:"isFinalised"`
	Overridden    bool       `gorm:"not null;default:false" json:"overridden"`
}

func (GradingResult) TableName() string {
	return "grading_results"
}
