package model

type SessionStatus string

const (
	StatusPending    SessionStatus = "pending"
	StatusProcessing SessionStatus = "processing"
	StatusReady      SessionStatus = "ready"
	StatusCompleted  SessionStatus = "completed"
	StatusError      SessionStatus = "error"
)

var sessionTransitions = map[SessionStatus][]SessionStatus{
	StatusPending:    {StatusProcessing, StatusError},
	StatusProcessing: {StatusReady, StatusError},
	StatusReady:      {StatusCompleted},
}

// CanTransitionTo completed 与 error 为终态
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, allowed := range sessionTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// InFlight 流水线尚未结束
func (s SessionStatus) InFlight() bool {
	return s == StatusPending || s == StatusProcessing
}

// GradingSession 一份学生答卷的评分会话
// swagger:model GradingSession
type GradingSession struct {
	UUIDBase
	StudentName    string             `gorm:"size:255;not null" json:"studentName"`
	RollNo         string             `gorm:"size:64" json:"rollNo"`
	Subject        string             `gorm:"size:128;index" json:"subject"`
	ExamTitle      string             `gorm:"size:255" json:"examTitle"`
	TotalMarks     float64            `gorm:"not null;default:0" json:"totalMarks"`
	ObtainedMarks  float64            `gorm:"not null;default:0" json:"obtainedMarks"`
	Status         SessionStatus      `gorm:"size:20;not null;default:'pending';index" json:"status"`
	SourcePath     string             `gorm:"size:512" json:"-"`
	SourceFilename string             `gorm:"size:255" json:"sourceFilename"`
	AnswerKeyID    *string            `gorm:"type:varchar(36)" json:"answerKeyId,omitempty"`
	ErrorMessage   string             `gorm:"type:text" json:"errorMessage,omitempty"`
	Questions      []Question         `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"questions,omitempty"`
	Images         []AnswerSheetImage `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE" json:"images,omitempty"`
}

func (GradingSession) TableName() string {
	return "grading_sessions"
}

// AnswerSheetImage 栅格化后的单页图片，写入后不再修改
type AnswerSheetImage struct {
	UUIDBase
	SessionID        string `gorm:"type:varchar(36);not null;uniqueIndex:idx_session_page" json:"sessionId"`
	PageNumber       int    `gorm:"not null;uniqueIndex:idx_session_page" json:"pageNumber"`
	FilePath         string `gorm:"size:512;not null" json:"-"`
	URL              string `gorm:"size:512" json:"url"`
	OriginalFilename string `gorm:"size:255" json:"originalFilename"`
}

func (AnswerSheetImage) TableName() string {
	return "answer_sheet_images"
}
