package model

// Professor 教师 — 对应 professors
type Professor struct {
	ID         string `gorm:"type:text;primaryKey"           json:"id"         firestore:"id"`
	Name       string `gorm:"type:varchar(100);not null"     json:"name"       firestore:"name"`
	Email      string `gorm:"type:varchar(255);not null"     json:"email"      firestore:"email"`
	Department string `gorm:"type:varchar(100)"              json:"department" firestore:"department"`
	Courses    IDSet  `gorm:"type:text[];not null;default:'{}'" json:"courses"    firestore:"courses"`
}

// TableName 指定表名
func (Professor) TableName() string { return CollectionProfessors }
