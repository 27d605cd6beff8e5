package memstore

import (
	"context"
	"errors"
	"testing"

	"qr-attendance/backend/pkg/docstore"
)

type testDoc struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Owner  string   `json:"owner_id"`
	Labels []string `json:"labels"`
}

func TestStore_SetGet(t *testing.T) {
	s := New()
	ctx := context.Background()
	ref := docstore.NewRef("docs", "d1")

	if err := s.Set(ctx, ref, &testDoc{ID: "d1", Name: "一号"}); err != nil {
		t.Fatalf("Set 应成功: %v", err)
	}

	var got testDoc
	if err := s.Get(ctx, ref, &got); err != nil {
		t.Fatalf("Get 应成功: %v", err)
	}
	if got.Name != "一号" {
		t.Errorf("期望 Name=一号，实际=%s", got.Name)
	}

	if err := s.Get(ctx, docstore.NewRef("docs", "missing"), &got); !errors.Is(err, docstore.ErrNotFound) {
		t.Errorf("期望 ErrNotFound，实际: %v", err)
	}
}

func TestStore_QueryFilterAndOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Set(ctx, docstore.NewRef("docs", "b"), &testDoc{ID: "b", Owner: "u1"})
	_ = s.Set(ctx, docstore.NewRef("docs", "a"), &testDoc{ID: "a", Owner: "u2"})
	_ = s.Set(ctx, docstore.NewRef("docs", "c"), &testDoc{ID: "c", Owner: "u1"})

	all, err := docstore.QueryAll[testDoc](ctx, s, "docs")
	if err != nil {
		t.Fatalf("QueryAll 应成功: %v", err)
	}
	if len(all) != 3 || all[0].ID != "b" || all[2].ID != "c" {
		t.Errorf("应按插入顺序返回，实际=%+v", all)
	}

	owned, err := docstore.QueryAll[testDoc](ctx, s, "docs", docstore.Eq("owner_id", "u1"))
	if err != nil {
		t.Fatalf("QueryAll 应成功: %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("期望 2 条，实际=%d", len(owned))
	}

	empty, err := docstore.QueryAll[testDoc](ctx, s, "nothing")
	if err != nil || len(empty) != 0 {
		t.Errorf("空集合应返回空切片，实际=%v err=%v", empty, err)
	}
}

func TestStore_RunInTx_Commit(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Set(ctx, docstore.NewRef("docs", "old"), &testDoc{ID: "old"})

	err := s.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error {
		var d testDoc
		if err := uow.Get(ctx, docstore.NewRef("docs", "old"), &d); err != nil {
			return err
		}
		uow.Delete(docstore.NewRef("docs", "old"))
		uow.Set(docstore.NewRef("docs", "new"), &testDoc{ID: "new", Labels: []string{"x"}})
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx 应成功: %v", err)
	}

	var d testDoc
	if err := s.Get(ctx, docstore.NewRef("docs", "old"), &d); !errors.Is(err, docstore.ErrNotFound) {
		t.Error("old 应已被删除")
	}
	if err := s.Get(ctx, docstore.NewRef("docs", "new"), &d); err != nil || len(d.Labels) != 1 {
		t.Errorf("new 应已写入，实际=%+v err=%v", d, err)
	}
}

func TestStore_RunInTx_AbortLeavesStateUnchanged(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Set(ctx, docstore.NewRef("docs", "keep"), &testDoc{ID: "keep", Name: "原值"})

	boom := errors.New("boom")
	err := s.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error {
		uow.Set(docstore.NewRef("docs", "keep"), &testDoc{ID: "keep", Name: "新值"})
		uow.Delete(docstore.NewRef("docs", "keep"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("期望原样返回业务错误，实际: %v", err)
	}
	var tx *docstore.TxError
	if errors.As(err, &tx) {
		t.Error("主动中止不应包装为 TxError")
	}

	var d testDoc
	if err := s.Get(ctx, docstore.NewRef("docs", "keep"), &d); err != nil || d.Name != "原值" {
		t.Errorf("中止后状态应不变，实际=%+v err=%v", d, err)
	}
}

func TestStore_RunInTx_StagedWritesInvisible(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error {
		uow.Set(docstore.NewRef("docs", "x"), &testDoc{ID: "x"})
		var d testDoc
		if err := uow.Get(ctx, docstore.NewRef("docs", "x"), &d); !errors.Is(err, docstore.ErrNotFound) {
			t.Errorf("暂存写入在提交前不应可见，实际: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx 应成功: %v", err)
	}
}

func TestStore_RunInTx_CanceledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := s.RunInTx(ctx, func(ctx context.Context, uow docstore.UnitOfWork) error { return nil })
	var tx *docstore.TxError
	if !errors.As(err, &tx) {
		t.Errorf("期望 TxError，实际: %v", err)
	}
}
