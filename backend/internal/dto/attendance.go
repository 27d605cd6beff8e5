package dto

import (
	"encoding/json"
	"strings"
	"time"

	"qr-attendance/backend/internal/analytics"
	"qr-attendance/backend/internal/model"
)

// ── 签到模块 DTO ──

// DurationInput 时长输入，接受 JSON 数字或字符串，原样交给业务层校验
type DurationInput string

// UnmarshalJSON 实现 json.Unmarshaler
func (d *DurationInput) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*d = DurationInput(s)
		return nil
	}
	*d = DurationInput(strings.TrimSpace(string(b)))
	return nil
}

// OpenQRSessionRequest 生成签到二维码；Duration 为空时使用默认时长
type OpenQRSessionRequest struct {
	Duration DurationInput `json:"duration"`
}

// ChangeDurationRequest 修改二维码时长
type ChangeDurationRequest struct {
	Duration DurationInput `json:"duration"`
}

// SubmitScanRequest 学生提交扫码结果
type SubmitScanRequest struct {
	Payload string `json:"payload" binding:"required,max=2048"`
	Comment string `json:"comment" binding:"max=500"`
}

// UpdateStatusRequest 修改签到状态
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=present absent late excused"`
}

// AttendanceQuery 签到记录查询参数
type AttendanceQuery struct {
	CourseID  string `form:"course_id"`
	SessionID string `form:"session_id"`
}

// CourseStudentResponse 课程学生及其出勤情况
type CourseStudentResponse struct {
	model.Student
	AttendanceCount int        `json:"attendance_count"`
	LastAttendance  *time.Time `json:"last_attendance,omitempty"`
}

// CourseAttendanceSummary 学生在某门课程上的出勤汇总
type CourseAttendanceSummary struct {
	CourseID   string          `json:"course_id"`
	CourseName string          `json:"course_name"`
	CourseCode string          `json:"course_code"`
	Tally      analytics.Tally `json:"tally"`
}

// StudentAttendanceResponse 学生签到记录与汇总
type StudentAttendanceResponse struct {
	Records   []model.AttendanceRecord  `json:"records"`
	Summaries []CourseAttendanceSummary `json:"summaries"`
}

// CourseAnalyticsResponse 课程统计
type CourseAnalyticsResponse struct {
	CourseID   string                `json:"course_id"`
	CourseName string                `json:"course_name"`
	CourseCode string                `json:"course_code"`
	Summary    analytics.CourseTally `json:"summary"`
}

// ProfessorOverviewResponse 教师总览
type ProfessorOverviewResponse struct {
	TotalCourses  int                       `json:"total_courses"`
	TotalStudents int                       `json:"total_students"`
	TotalSessions int                       `json:"total_sessions"`
	Attended      int                       `json:"attended"`
	Absent        int                       `json:"absent"`
	Rate          float64                   `json:"attendance_rate"`
	Courses       []CourseAnalyticsResponse `json:"courses"`
}
