package service

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"qr-attendance/backend/config"
	"qr-attendance/backend/internal/dto"
	"qr-attendance/backend/internal/model"
	"qr-attendance/backend/internal/qrsession"
	"qr-attendance/backend/internal/repository"
	"qr-attendance/backend/pkg/docstore"
	"qr-attendance/backend/pkg/docstore/memstore"
	"qr-attendance/backend/pkg/jwt"
)

// ── 测试辅助 ──

const testQRBase = "https://attendance-recorder.onrender.com/"

func testConfig() *config.Config {
	return &config.Config{
		Auth: config.AuthConfig{
			JWTSecret:      "test-secret-key-for-unit-tests",
			AccessTokenTTL: time.Hour,
		},
		QR: config.QRConfig{
			BaseURL:                testQRBase,
			DefaultDurationMinutes: 15,
			MaxDurationMinutes:     180,
			ImageSize:              256,
			RejectDuplicateScans:   true,
		},
		Cache:  config.CacheConfig{TTL: time.Minute},
		Import: config.ImportConfig{MaxRows: 100},
	}
}

// faultyStore 包装文档存储，按需注入故障并统计调用次数
type faultyStore struct {
	docstore.Backend
	failCommit atomic.Bool
	failQuery  atomic.Bool
	// slowAck 提交后随机延迟 0-3ms 才返回，使并发事务的确认顺序与提交顺序不一致
	slowAck atomic.Bool
	calls   atomic.Int32
	// afterSet 在 Set 写入成功后调用
	afterSet func(ref docstore.Ref)
}

var errAbortForCommitFailure = errors.New("abort for simulated commit failure")

func (f *faultyStore) Get(ctx context.Context, ref docstore.Ref, dst interface{}) error {
	f.calls.Add(1)
	return f.Backend.Get(ctx, ref, dst)
}

func (f *faultyStore) Set(ctx context.Context, ref docstore.Ref, doc interface{}) error {
	f.calls.Add(1)
	if err := f.Backend.Set(ctx, ref, doc); err != nil {
		return err
	}
	if f.afterSet != nil {
		f.afterSet(ref)
	}
	return nil
}

func (f *faultyStore) Query(ctx context.Context, collection string, filters []docstore.Filter, each func(decode docstore.Decoder) error) error {
	f.calls.Add(1)
	if f.failQuery.Load() {
		return errors.New("模拟查询失败")
	}
	return f.Backend.Query(ctx, collection, filters, each)
}

// RunInTx 故障模式下照常执行 fn，但放弃暂存写入并报告提交失败
func (f *faultyStore) RunInTx(ctx context.Context, fn docstore.TxFunc) error {
	f.calls.Add(1)
	if !f.failCommit.Load() {
		err := f.Backend.RunInTx(ctx, fn)
		if f.slowAck.Load() {
			time.Sleep(time.Duration(rand.Int63n(int64(3 * time.Millisecond))))
		}
		return err
	}
	err := f.Backend.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error {
		if err := fn(ctx, uow); err != nil {
			return err
		}
		return errAbortForCommitFailure
	})
	if errors.Is(err, errAbortForCommitFailure) {
		return &docstore.TxError{Err: errors.New("模拟提交失败")}
	}
	return err
}

type testEnv struct {
	cfg     *config.Config
	store   *faultyStore
	repo    *repository.Repository
	manager *qrsession.Manager
	svc     *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := testConfig()
	store := &faultyStore{Backend: memstore.New()}
	repo := repository.NewRepository(store)
	manager := qrsession.NewManager(cfg.QR.BaseURL, zap.NewNop(), nil)
	t.Cleanup(manager.Stop)

	svc := NewService(Deps{
		Config:   cfg,
		Repo:     repo,
		JWT:      jwt.NewManager(&cfg.Auth),
		Sessions: manager,
		Logger:   zap.NewNop(),
	})
	if err := svc.Warm(context.Background()); err != nil {
		t.Fatalf("Warm 应成功: %v", err)
	}
	t.Cleanup(svc.Close)

	return &testEnv{cfg: cfg, store: store, repo: repo, manager: manager, svc: svc}
}

func (e *testEnv) createProfessor(t *testing.T, name, email string) *model.Professor {
	t.Helper()
	p, err := e.svc.Professor.Create(context.Background(), &dto.CreateProfessorRequest{Name: name, Email: email, Department: "计算机系"})
	if err != nil {
		t.Fatalf("创建教师应成功: %v", err)
	}
	return p
}

func (e *testEnv) createStudent(t *testing.T, name, email, studentNo string) *model.Student {
	t.Helper()
	s, err := e.svc.Student.Create(context.Background(), &dto.CreateStudentRequest{Name: name, Email: email, StudentID: studentNo})
	if err != nil {
		t.Fatalf("创建学生应成功: %v", err)
	}
	return s
}

func (e *testEnv) createCourse(t *testing.T, name, code string) *model.Course {
	t.Helper()
	c, err := e.svc.Course.Create(context.Background(), &dto.CreateCourseRequest{Name: name, Code: code})
	if err != nil {
		t.Fatalf("创建课程应成功: %v", err)
	}
	return c
}

func (e *testEnv) professor(t *testing.T, id string) *model.Professor {
	t.Helper()
	p, err := e.repo.Professor.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("读取教师 %s 失败: %v", id, err)
	}
	return p
}

func (e *testEnv) student(t *testing.T, id string) *model.Student {
	t.Helper()
	s, err := e.repo.Student.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("读取学生 %s 失败: %v", id, err)
	}
	return s
}

func (e *testEnv) course(t *testing.T, id string) *model.Course {
	t.Helper()
	c, err := e.repo.Course.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("读取课程 %s 失败: %v", id, err)
	}
	return c
}

func strPtr(s string) *string { return &s }

func idsPtr(ids ...string) *[]string { return &ids }

func asProfessor(p *model.Professor) Caller { return Caller{ID: p.ID, Role: model.RoleProfessor} }

func asStudent(s *model.Student) Caller { return Caller{ID: s.ID, Role: model.RoleStudent} }

var adminCaller = Caller{ID: model.AdminUserID, Role: model.RoleAdmin}

func (c *classroom) attendanceFilter() repository.AttendanceFilter {
	return repository.AttendanceFilter{CourseID: c.course.ID}
}
