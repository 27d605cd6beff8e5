package dto

// ── 实体管理 DTO ──
//
// 更新请求使用指针字段区分“未提供”和“显式提供”：
//   - nil：保持原值
//   - 非 nil（包括空集合）：替换为该值，关系集合会同步另一侧

// CreateProfessorRequest 新建教师
type CreateProfessorRequest struct {
	Name       string `json:"name"       binding:"required,notblank,max=100"`
	Email      string `json:"email"      binding:"required,email,max=255"`
	Department string `json:"department" binding:"max=100"`
}

// UpdateProfessorRequest 更新教师
type UpdateProfessorRequest struct {
	Name       *string   `json:"name"       binding:"omitempty,notblank,max=100"`
	Email      *string   `json:"email"      binding:"omitempty,email,max=255"`
	Department *string   `json:"department" binding:"omitempty,max=100"`
	Courses    *[]string `json:"courses"    binding:"omitempty,dive,required"`
}

// CreateStudentRequest 新建学生
type CreateStudentRequest struct {
	Name      string `json:"name"       binding:"required,notblank,max=100"`
	Email     string `json:"email"      binding:"required,email,max=255"`
	StudentID string `json:"student_id" binding:"required,notblank,max=50"`
}

// UpdateStudentRequest 更新学生
type UpdateStudentRequest struct {
	Name      *string   `json:"name"       binding:"omitempty,notblank,max=100"`
	Email     *string   `json:"email"      binding:"omitempty,email,max=255"`
	StudentID *string   `json:"student_id" binding:"omitempty,notblank,max=50"`
	Courses   *[]string `json:"courses"    binding:"omitempty,dive,required"`
}

// CreateCourseRequest 新建课程
type CreateCourseRequest struct {
	Name string `json:"name" binding:"required,notblank,max=100"`
	Code string `json:"code" binding:"required,notblank,max=50"`
}

// UpdateCourseRequest 更新课程
// ProfessorID 为空字符串表示取消分配
type UpdateCourseRequest struct {
	Name        *string   `json:"name"         binding:"omitempty,notblank,max=100"`
	Code        *string   `json:"code"         binding:"omitempty,notblank,max=50"`
	ProfessorID *string   `json:"professor_id"`
	Students    *[]string `json:"students"     binding:"omitempty,dive,required"`
}

// AssignProfessorRequest 分配教师
type AssignProfessorRequest struct {
	ProfessorID string `json:"professor_id" binding:"required"`
}

// ImportStudentsResponse 批量导入学生响应（全部成功或全部失败）
type ImportStudentsResponse struct {
	Total   int         `json:"total"`
	Created interface{} `json:"created"`
}

// ImportRowError 导入失败的行
type ImportRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}
