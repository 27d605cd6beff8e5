package repository

import (
	"context"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/pkg/docstore"
)

// Tx 工作单元的类型化视图
// Get 读取事务开始时已提交的状态；Put / Delete 仅暂存，提交时统一生效
type Tx struct {
	uow docstore.UnitOfWork
}

// ── Professor ──

func (t *Tx) GetProfessor(ctx context.Context, id string) (*model.Professor, error) {
	return txGet[model.Professor](ctx, t.uow, model.CollectionProfessors, id)
}

func (t *Tx) PutProfessor(p *model.Professor) {
	t.uow.Set(docstore.NewRef(model.CollectionProfessors, p.ID), p)
}

func (t *Tx) DeleteProfessor(id string) {
	t.uow.Delete(docstore.NewRef(model.CollectionProfessors, id))
}

// ── Student ──

func (t *Tx) GetStudent(ctx context.Context, id string) (*model.Student, error) {
	return txGet[model.Student](ctx, t.uow, model.CollectionStudents, id)
}

func (t *Tx) PutStudent(s *model.Student) {
	t.uow.Set(docstore.NewRef(model.CollectionStudents, s.ID), s)
}

func (t *Tx) DeleteStudent(id string) {
	t.uow.Delete(docstore.NewRef(model.CollectionStudents, id))
}

// ── Course ──

func (t *Tx) GetCourse(ctx context.Context, id string) (*model.Course, error) {
	return txGet[model.Course](ctx, t.uow, model.CollectionCourses, id)
}

func (t *Tx) PutCourse(c *model.Course) {
	t.uow.Set(docstore.NewRef(model.CollectionCourses, c.ID), c)
}

func (t *Tx) DeleteCourse(id string) {
	t.uow.Delete(docstore.NewRef(model.CollectionCourses, id))
}

// ── Attendance ──

func (t *Tx) GetAttendance(ctx context.Context, id string) (*model.AttendanceRecord, error) {
	return txGet[model.AttendanceRecord](ctx, t.uow, model.CollectionAttendance, id)
}

func (t *Tx) PutAttendance(r *model.AttendanceRecord) {
	t.uow.Set(docstore.NewRef(model.CollectionAttendance, r.ID), r)
}

// ── Session ──

func (t *Tx) GetSession(ctx context.Context, id string) (*model.CourseSession, error) {
	return txGet[model.CourseSession](ctx, t.uow, model.CollectionSessions, id)
}

func (t *Tx) PutSession(s *model.CourseSession) {
	t.uow.Set(docstore.NewRef(model.CollectionSessions, s.ID), s)
}
