package model

// Course 课程 — 对应 courses
// ProfessorID 为空表示未分配教师
type Course struct {
	ID          string `gorm:"type:text;primaryKey"              json:"id"           firestore:"id"`
	Name        string `gorm:"type:varchar(100);not null"        json:"name"         firestore:"name"`
	Code        string `gorm:"type:varchar(50);not null"         json:"code"         firestore:"code"`
	ProfessorID string `gorm:"type:text;not null;default:''"     json:"professor_id" firestore:"professorId"`
	Students    IDSet  `gorm:"type:text[];not null;default:'{}'" json:"students"     firestore:"students"`
}

// TableName 指定表名
func (Course) TableName() string { return CollectionCourses }
