package model

import (
	"database/sql/driver"

	"github.com/lib/pq"
)

// 集合名称
const (
	CollectionProfessors = "professors"
	CollectionStudents   = "students"
	CollectionCourses    = "courses"
	CollectionAttendance = "attendance"
	CollectionSessions   = "sessions"
)

// 角色
const (
	RoleAdmin     = "admin"
	RoleProfessor = "professor"
	RoleStudent   = "student"
)

// ── 关系集合类型 ──

// IDSet 关系 ID 集合，对应 PostgreSQL TEXT[]，元素唯一、保持插入顺序。
// Scan/Value 委托给 pq.StringArray 处理数组文本的转义。
type IDSet []string

// Scan 实现 sql.Scanner
func (s *IDSet) Scan(src interface{}) error {
	var arr pq.StringArray
	if err := arr.Scan(src); err != nil {
		return err
	}
	*s = IDSet(arr)
	if *s == nil {
		*s = IDSet{}
	}
	return nil
}

// Value 实现 driver.Valuer，nil 写为空数组
func (s IDSet) Value() (driver.Value, error) {
	if s == nil {
		return "{}", nil
	}
	return pq.StringArray(s).Value()
}

// NewIDSet 创建去重后的集合，忽略空字符串
func NewIDSet(ids ...string) IDSet {
	out := make(IDSet, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Contains 是否包含 id
func (s IDSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// With 返回并集（追加 id），不修改原集合
func (s IDSet) With(id string) IDSet {
	return NewIDSet(append(append(IDSet{}, s...), id)...)
}

// Without 返回差集（移除 id），不修改原集合
func (s IDSet) Without(id string) IDSet {
	out := make(IDSet, 0, len(s))
	for _, v := range s {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

// Diff 计算从 s 变为 next 时新增与移除的元素
func (s IDSet) Diff(next IDSet) (added, removed IDSet) {
	added, removed = IDSet{}, IDSet{}
	for _, id := range next {
		if !s.Contains(id) {
			added = append(added, id)
		}
	}
	for _, id := range s {
		if !next.Contains(id) {
			removed = append(removed, id)
		}
	}
	return added, removed
}

// Clone 拷贝集合，nil 返回空集合
func (s IDSet) Clone() IDSet {
	return append(IDSet{}, s...)
}
