package model

import "time"

// 签到状态
const (
	AttendancePresent = "present"
	AttendanceAbsent  = "absent"
	AttendanceLate    = "late"
	AttendanceExcused = "excused"
)

// ValidAttendanceStatus 是否为合法的签到状态
func ValidAttendanceStatus(s string) bool {
	switch s {
	case AttendancePresent, AttendanceAbsent, AttendanceLate, AttendanceExcused:
		return true
	}
	return false
}

// AttendanceRecord 签到记录 — 对应 attendance
// 除 Status 外只追加不修改
type AttendanceRecord struct {
	ID          string    `gorm:"type:text;primaryKey"          json:"id"           firestore:"id"`
	CourseID    string    `gorm:"type:text;not null;index"      json:"course_id"    firestore:"courseId"`
	SessionID   string    `gorm:"type:text;not null;index"      json:"session_id"   firestore:"sessionId"`
	StudentID   string    `gorm:"type:text;not null;index"      json:"student_id"   firestore:"studentId"`
	StudentName string    `gorm:"type:varchar(100);not null"    json:"student_name" firestore:"studentName"`
	Timestamp   time.Time `gorm:"not null"                      json:"timestamp"    firestore:"timestamp"`
	Status      string    `gorm:"type:varchar(20);not null"     json:"status"       firestore:"status"`
	Comment     string    `gorm:"type:text"                     json:"comment,omitempty" firestore:"comment,omitempty"`
}

// TableName 指定表名
func (AttendanceRecord) TableName() string { return CollectionAttendance }
