package model

import "time"

// CourseSession 课堂签到场次台账 — 对应 sessions
// ID 即二维码中的 sessionId；ExpiresAt 随时长调整同步更新，提交签到时以此判定是否过期。
// 过期后重新生成的二维码是新场次，但与原场次共享 SeriesID，统计时按同一节课计
type CourseSession struct {
	ID              string     `gorm:"type:text;primaryKey"     json:"id"               firestore:"id"`
	SeriesID        string     `gorm:"type:text;not null"       json:"series_id"        firestore:"seriesId"`
	CourseID        string     `gorm:"type:text;not null;index" json:"course_id"        firestore:"courseId"`
	ProfessorID     string     `gorm:"type:text;not null"       json:"professor_id"     firestore:"professorId"`
	DurationMinutes int        `gorm:"not null"                 json:"duration_minutes" firestore:"durationMinutes"`
	IssuedAt        time.Time  `gorm:"not null"                 json:"issued_at"        firestore:"issuedAt"`
	ExpiresAt       time.Time  `gorm:"not null"                 json:"expires_at"       firestore:"expiresAt"`
	ClosedAt        *time.Time `gorm:""                         json:"closed_at,omitempty" firestore:"closedAt,omitempty"`
}

// TableName 指定表名
func (CourseSession) TableName() string { return CollectionSessions }

// AcceptsAt 场次在 t 时刻是否仍接受签到
func (s *CourseSession) AcceptsAt(t time.Time) bool {
	if s.ClosedAt != nil {
		return false
	}
	return !t.After(s.ExpiresAt)
}

// ClassKey 统计用的课次标识
func (s *CourseSession) ClassKey() string {
	if s.SeriesID != "" {
		return s.SeriesID
	}
	return s.ID
}
