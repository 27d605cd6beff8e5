package service

import (
	"context"
	"errors"

	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/repository"
)

// ═══════════════════════════════════════════════════════════
// 关系维护
//
// 设计说明：
//   - 教师.courses ↔ 课程.professorId、学生.courses ↔ 课程.students 两侧冗余保存
//   - 工作单元的读取只能看到已提交状态，同一文档在一次操作中可能被修改多次，
//     因此 relTx 按 ID 缓存本次读到的文档，所有修改作用在同一份副本上，
//     fn 返回前由 flush 统一暂存
//   - 级联清理时另一侧文档已不存在则跳过
// ═══════════════════════════════════════════════════════════

type docKind int

const (
	kindProfessor docKind = iota
	kindStudent
	kindCourse
)

type docKey struct {
	kind docKind
	id   string
}

// relTx 关系维护使用的工作单元视图
type relTx struct {
	tx *repository.Tx

	professors map[string]*model.Professor
	students   map[string]*model.Student
	courses    map[string]*model.Course

	order   []docKey
	dirty   map[docKey]bool
	deleted map[docKey]bool
}

func newRelTx(tx *repository.Tx) *relTx {
	return &relTx{
		tx:         tx,
		professors: make(map[string]*model.Professor),
		students:   make(map[string]*model.Student),
		courses:    make(map[string]*model.Course),
		dirty:      make(map[docKey]bool),
		deleted:    make(map[docKey]bool),
	}
}

// ── 读取 ──

func (r *relTx) professor(ctx context.Context, id string) (*model.Professor, error) {
	if p, ok := r.professors[id]; ok {
		return p, nil
	}
	p, err := r.tx.GetProfessor(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrProfessorNotFound)
	}
	r.professors[id] = p
	return p, nil
}

func (r *relTx) student(ctx context.Context, id string) (*model.Student, error) {
	if s, ok := r.students[id]; ok {
		return s, nil
	}
	s, err := r.tx.GetStudent(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrStudentNotFound)
	}
	r.students[id] = s
	return s, nil
}

func (r *relTx) course(ctx context.Context, id string) (*model.Course, error) {
	if c, ok := r.courses[id]; ok {
		return c, nil
	}
	c, err := r.tx.GetCourse(ctx, id)
	if err != nil {
		return nil, notFoundAs(err, ErrCourseNotFound)
	}
	r.courses[id] = c
	return c, nil
}

// ── 标记 ──

func (r *relTx) touch(kind docKind, id string) {
	k := docKey{kind, id}
	if !r.dirty[k] && !r.deleted[k] {
		r.order = append(r.order, k)
	}
	r.dirty[k] = true
}

func (r *relTx) remove(kind docKind, id string) {
	k := docKey{kind, id}
	if !r.dirty[k] && !r.deleted[k] {
		r.order = append(r.order, k)
	}
	delete(r.dirty, k)
	r.deleted[k] = true
}

func (r *relTx) putProfessor(p *model.Professor) {
	r.professors[p.ID] = p
	r.touch(kindProfessor, p.ID)
}

func (r *relTx) putStudent(s *model.Student) {
	r.students[s.ID] = s
	r.touch(kindStudent, s.ID)
}

func (r *relTx) putCourse(c *model.Course) {
	r.courses[c.ID] = c
	r.touch(kindCourse, c.ID)
}

// flush 将修改暂存到工作单元，返回本次写入涉及的实体类型
func (r *relTx) flush() changeSet {
	cs := make(changeSet)
	for _, k := range r.order {
		cs[k.kind] = true
		if r.deleted[k] {
			switch k.kind {
			case kindProfessor:
				r.tx.DeleteProfessor(k.id)
			case kindStudent:
				r.tx.DeleteStudent(k.id)
			case kindCourse:
				r.tx.DeleteCourse(k.id)
			}
			continue
		}
		switch k.kind {
		case kindProfessor:
			r.tx.PutProfessor(r.professors[k.id])
		case kindStudent:
			r.tx.PutStudent(r.students[k.id])
		case kindCourse:
			r.tx.PutCourse(r.courses[k.id])
		}
	}
	return cs
}

// ── 选课 ──

// enroll 学生选课，两侧取并集
func (r *relTx) enroll(ctx context.Context, courseID, studentID string) error {
	c, err := r.course(ctx, courseID)
	if err != nil {
		return err
	}
	s, err := r.student(ctx, studentID)
	if err != nil {
		return err
	}
	c.Students = c.Students.With(studentID)
	s.Courses = s.Courses.With(courseID)
	r.putCourse(c)
	r.putStudent(s)
	return nil
}

// unenroll 学生退课，两侧取差集
func (r *relTx) unenroll(ctx context.Context, courseID, studentID string) error {
	c, err := r.course(ctx, courseID)
	if err != nil {
		return err
	}
	s, err := r.student(ctx, studentID)
	if err != nil {
		return err
	}
	c.Students = c.Students.Without(studentID)
	s.Courses = s.Courses.Without(courseID)
	r.putCourse(c)
	r.putStudent(s)
	return nil
}

// setStudentCourses 替换学生的课程集合，并同步各课程的学生集合
func (r *relTx) setStudentCourses(ctx context.Context, s *model.Student, next model.IDSet) error {
	added, removed := s.Courses.Diff(next)
	for _, courseID := range added {
		c, err := r.course(ctx, courseID)
		if err != nil {
			return err
		}
		c.Students = c.Students.With(s.ID)
		r.putCourse(c)
	}
	for _, courseID := range removed {
		c, err := r.course(ctx, courseID)
		if errors.Is(err, ErrCourseNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c.Students = c.Students.Without(s.ID)
		r.putCourse(c)
	}
	s.Courses = next
	r.putStudent(s)
	return nil
}

// setCourseStudents 替换课程的学生集合，并同步各学生的课程集合
func (r *relTx) setCourseStudents(ctx context.Context, c *model.Course, next model.IDSet) error {
	added, removed := c.Students.Diff(next)
	for _, studentID := range added {
		s, err := r.student(ctx, studentID)
		if err != nil {
			return err
		}
		s.Courses = s.Courses.With(c.ID)
		r.putStudent(s)
	}
	for _, studentID := range removed {
		s, err := r.student(ctx, studentID)
		if errors.Is(err, ErrStudentNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		s.Courses = s.Courses.Without(c.ID)
		r.putStudent(s)
	}
	c.Students = next
	r.putCourse(c)
	return nil
}

// ── 授课 ──

// linkProfessor 指定课程教师；原教师（若有）同时移除该课程，保证课程只属于一位教师
func (r *relTx) linkProfessor(ctx context.Context, courseID, professorID string) error {
	c, err := r.course(ctx, courseID)
	if err != nil {
		return err
	}
	p, err := r.professor(ctx, professorID)
	if err != nil {
		return err
	}

	if c.ProfessorID != "" && c.ProfessorID != professorID {
		prev, err := r.professor(ctx, c.ProfessorID)
		switch {
		case errors.Is(err, ErrProfessorNotFound):
		case err != nil:
			return err
		default:
			prev.Courses = prev.Courses.Without(courseID)
			r.putProfessor(prev)
		}
	}

	c.ProfessorID = professorID
	p.Courses = p.Courses.With(courseID)
	r.putCourse(c)
	r.putProfessor(p)
	return nil
}

// unlinkProfessor 取消课程教师，未分配时不做任何事
func (r *relTx) unlinkProfessor(ctx context.Context, courseID string) error {
	c, err := r.course(ctx, courseID)
	if err != nil {
		return err
	}
	if c.ProfessorID == "" {
		return nil
	}

	prev, err := r.professor(ctx, c.ProfessorID)
	switch {
	case errors.Is(err, ErrProfessorNotFound):
	case err != nil:
		return err
	default:
		prev.Courses = prev.Courses.Without(courseID)
		r.putProfessor(prev)
	}

	c.ProfessorID = ""
	r.putCourse(c)
	return nil
}

// setProfessorCourses 替换教师的课程集合
// 新增的课程从原教师处转移过来；移除的课程清空 professorId
func (r *relTx) setProfessorCourses(ctx context.Context, p *model.Professor, next model.IDSet) error {
	added, removed := p.Courses.Diff(next)
	for _, courseID := range added {
		if err := r.linkProfessor(ctx, courseID, p.ID); err != nil {
			return err
		}
	}
	for _, courseID := range removed {
		c, err := r.course(ctx, courseID)
		if errors.Is(err, ErrCourseNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if c.ProfessorID == p.ID {
			c.ProfessorID = ""
			r.putCourse(c)
		}
	}
	p.Courses = next
	r.putProfessor(p)
	return nil
}

// ── 级联删除 ──

// deleteCourse 删除课程，并从学生与教师的课程集合中移除
func (r *relTx) deleteCourse(ctx context.Context, courseID string) error {
	c, err := r.course(ctx, courseID)
	if err != nil {
		return err
	}

	for _, studentID := range c.Students {
		s, err := r.student(ctx, studentID)
		if errors.Is(err, ErrStudentNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		s.Courses = s.Courses.Without(courseID)
		r.putStudent(s)
	}

	if c.ProfessorID != "" {
		p, err := r.professor(ctx, c.ProfessorID)
		switch {
		case errors.Is(err, ErrProfessorNotFound):
		case err != nil:
			return err
		default:
			p.Courses = p.Courses.Without(courseID)
			r.putProfessor(p)
		}
	}

	r.remove(kindCourse, courseID)
	return nil
}

// deleteStudent 删除学生，并从各课程的学生集合中移除
func (r *relTx) deleteStudent(ctx context.Context, studentID string) error {
	s, err := r.student(ctx, studentID)
	if err != nil {
		return err
	}

	for _, courseID := range s.Courses {
		c, err := r.course(ctx, courseID)
		if errors.Is(err, ErrCourseNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		c.Students = c.Students.Without(studentID)
		r.putCourse(c)
	}

	r.remove(kindStudent, studentID)
	return nil
}

// deleteProfessor 删除教师，并清空指向该教师的课程的 professorId
// pointing 为事务外按 professor_id 查到的课程 ID，与教师自身的课程集合合并处理
func (r *relTx) deleteProfessor(ctx context.Context, professorID string, pointing []string) error {
	p, err := r.professor(ctx, professorID)
	if err != nil {
		return err
	}

	for _, courseID := range model.NewIDSet(append(p.Courses.Clone(), pointing...)...) {
		c, err := r.course(ctx, courseID)
		if errors.Is(err, ErrCourseNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if c.ProfessorID == professorID {
			c.ProfessorID = ""
			r.putCourse(c)
		}
	}

	r.remove(kindProfessor, professorID)
	return nil
}

// ── 缓存同步 ──

// changeSet 一次提交中写入或删除过文档的实体类型
type changeSet map[docKind]bool

// entityCaches 三类实体的列表缓存，由各实体 Service 共享
type entityCaches struct {
	professors *entityCache[model.Professor]
	students   *entityCache[model.Student]
	courses    *entityCache[model.Course]
}

// apply 提交后使涉及的缓存失效
// 并发提交的确认顺序与提交顺序无关，写回快照可能以旧覆盖新，因此只做失效
func (c *entityCaches) apply(cs changeSet) {
	if cs[kindProfessor] {
		c.professors.Invalidate()
	}
	if cs[kindStudent] {
		c.students.Invalidate()
	}
	if cs[kindCourse] {
		c.courses.Invalidate()
	}
}

// runRelTx 在工作单元中执行关系维护，提交成功后同步缓存
func runRelTx(ctx context.Context, repo *repository.Repository, caches *entityCaches, fn func(ctx context.Context, r *relTx) error) error {
	var cs changeSet
	err := repo.RunInTx(ctx, func(ctx context.Context, tx *repository.Tx) error {
		r := newRelTx(tx)
		if err := fn(ctx, r); err != nil {
			return err
		}
		cs = r.flush()
		return nil
	})
	if err != nil {
		return err
	}
	caches.apply(cs)
	return nil
}
