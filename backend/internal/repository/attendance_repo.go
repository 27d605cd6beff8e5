package repository

import (
	"context"
	"sort"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// AttendanceFilter 签到记录查询条件，空字段表示不过滤
type AttendanceFilter struct {
	CourseID  string
	StudentID string
	SessionID string
}

// AttendanceRepository 签到记录数据访问接口
type AttendanceRepository interface {
	Create(ctx context.Context, rec *model.AttendanceRecord) error
	GetByID(ctx context.Context, id string) (*model.AttendanceRecord, error)
	List(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error)
}

// attendanceRepo AttendanceRepository 的文档存储实现
type attendanceRepo struct {
	store docstore.Backend
}

// NewAttendanceRepo 创建 AttendanceRepository 实例
func NewAttendanceRepo(store docstore.Backend) AttendanceRepository {
	return &attendanceRepo{store: store}
}

func (r *attendanceRepo) Create(ctx context.Context, rec *model.AttendanceRecord) error {
	return r.store.Set(ctx, docstore.NewRef(model.CollectionAttendance, rec.ID), rec)
}

func (r *attendanceRepo) GetByID(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	return getDoc[model.AttendanceRecord](ctx, r.store, model.CollectionAttendance, id)
}

// List 按条件查询，结果按签到时间倒序
func (r *attendanceRepo) List(ctx context.Context, filter AttendanceFilter) ([]model.AttendanceRecord, error) {
	var filters []docstore.Filter
	if filter.CourseID != "" {
		filters = append(filters, docstore.Eq("course_id", filter.CourseID))
	}
	if filter.StudentID != "" {
		filters = append(filters, docstore.Eq("student_id", filter.StudentID))
	}
	if filter.SessionID != "" {
		filters = append(filters, docstore.Eq("session_id", filter.SessionID))
	}

	records, err := docstore.QueryAll[model.AttendanceRecord](ctx, r.store, model.CollectionAttendance, filters...)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}
