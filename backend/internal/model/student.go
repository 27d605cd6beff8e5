package model

// Student 学生 — 对应 students
type Student struct {
	ID        string `gorm:"type:text;primaryKey"              json:"id"         firestore:"id"`
	Name      string `gorm:"type:varchar(100);not null"        json:"name"       firestore:"name"`
	Email     string `gorm:"type:varchar(255);not null"        json:"email"      firestore:"email"`
	StudentID string `gorm:"type:varchar(50);not null"         json:"student_id" firestore:"studentId"` // 学号
	Courses   IDSet  `gorm:"type:text[];not null;default:'{}'" json:"courses"    firestore:"courses"`
}

// TableName 指定表名
func (Student) TableName() string { return CollectionStudents }
