// Package analytics 签到统计的纯计算部分
//
// 应到次数取自课程的签到场次台账，而不是固定常量；
// 同一场次的多条记录只计一次，以最后一次记录的状态为准。
package analytics

import (
	"sort"
	"time"

	"qr-attendance/backend/internal/model"
)

// Tally 某学生在某课程上的出勤统计
type Tally struct {
	ClassCount     int        `json:"class_count"` // 应到次数
	Present        int        `json:"present"`
	Late           int        `json:"late"`
	Excused        int        `json:"excused"`
	Absent         int        `json:"absent"`
	Rate           float64    `json:"attendance_rate"` // 出勤率（%），迟到计为出勤
	LastAttendance *time.Time `json:"last_attendance,omitempty"`
}

// StudentTally 统计 studentID 在 courseID 上的出勤
// absent = max(classCount - present - late - excused, 0)，显式标记为 absent 的记录不计入出勤
func StudentTally(records []model.AttendanceRecord, studentID, courseID string, classCount int) Tally {
	latest := latestPerSession(records, func(r *model.AttendanceRecord) bool {
		return r.StudentID == studentID && r.CourseID == courseID
	})

	t := Tally{ClassCount: classCount}
	for _, r := range latest {
		switch r.Status {
		case model.AttendancePresent:
			t.Present++
		case model.AttendanceLate:
			t.Late++
		case model.AttendanceExcused:
			t.Excused++
		}
		if r.Status != model.AttendanceAbsent {
			ts := r.Timestamp
			if t.LastAttendance == nil || ts.After(*t.LastAttendance) {
				t.LastAttendance = &ts
			}
		}
	}

	t.Absent = classCount - t.Present - t.Late - t.Excused
	if t.Absent < 0 {
		t.Absent = 0
	}
	t.Rate = rate(t.Present+t.Late, classCount)
	return t
}

// CourseTally 课程整体统计
type CourseTally struct {
	Enrolled     int     `json:"enrolled"`
	SessionsHeld int     `json:"sessions_held"`
	Expected     int     `json:"expected"` // enrolled × sessions_held
	Attended     int     `json:"attended"` // present + late
	Excused      int     `json:"excused"`
	Absent       int     `json:"absent"`
	Rate         float64 `json:"attendance_rate"`
}

// CourseSummary 统计课程整体出勤，只统计已选课学生的记录
func CourseSummary(records []model.AttendanceRecord, course *model.Course, sessionsHeld int) CourseTally {
	t := CourseTally{
		Enrolled:     len(course.Students),
		SessionsHeld: sessionsHeld,
		Expected:     len(course.Students) * sessionsHeld,
	}
	for _, studentID := range course.Students {
		st := StudentTally(records, studentID, course.ID, sessionsHeld)
		t.Attended += st.Present + st.Late
		t.Excused += st.Excused
		t.Absent += st.Absent
	}
	t.Rate = rate(t.Attended, t.Expected)
	return t
}

// latestPerSession 按场次去重，保留时间最新的一条
func latestPerSession(records []model.AttendanceRecord, keep func(*model.AttendanceRecord) bool) []model.AttendanceRecord {
	bySession := make(map[string]model.AttendanceRecord)
	for i := range records {
		r := &records[i]
		if !keep(r) {
			continue
		}
		prev, ok := bySession[r.SessionID]
		if !ok || r.Timestamp.After(prev.Timestamp) {
			bySession[r.SessionID] = *r
		}
	}

	out := make([]model.AttendanceRecord, 0, len(bySession))
	for _, r := range bySession {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

func rate(attended, expected int) float64 {
	if expected <= 0 {
		return 0
	}
	r := float64(attended) / float64(expected) * 100
	if r > 100 {
		r = 100
	}
	return float64(int(r*10+0.5)) / 10
}
