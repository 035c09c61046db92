package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"lessonbell/pkg/logx"
)

func openDriver(t *testing.T, driver string) Store {
	t.Helper()
	cfg := Config{Driver: driver}
	switch driver {
	case "file":
		cfg.Path = filepath.Join(t.TempDir(), "state.json")
	case "sqlite":
		cfg.Path = filepath.Join(t.TempDir(), "state.db")
	}
	st, err := Open(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("Open(%s) error: %v", driver, err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreDrivers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"memory", "file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			st := openDriver(t, driver)

			if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
			}
			if err := st.Put(ctx, "k", []byte("v1")); err != nil {
				t.Fatalf("Put error: %v", err)
			}
			if err := st.Put(ctx, "k", []byte("v2")); err != nil {
				t.Fatalf("Put overwrite error: %v", err)
			}
			got, err := st.Get(ctx, "k")
			if err != nil || string(got) != "v2" {
				t.Fatalf("Get = %q, %v; want v2", got, err)
			}
			if err := st.Delete(ctx, "k"); err != nil {
				t.Fatalf("Delete error: %v", err)
			}
			if _, err := st.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("Get after delete err = %v", err)
			}
		})
	}
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")

	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	_ = st.Put(ctx, "a", []byte("1"))
	_ = st.Put(ctx, "b", []byte("2"))
	_ = st.Delete(ctx, "a")
	if err := st.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer st2.Close()
	if _, err := st2.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key resurrected: %v", err)
	}
	if got, err := st2.Get(ctx, "b"); err != nil || string(got) != "2" {
		t.Fatalf("Get(b) = %q, %v", got, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestMemoryClosed(t *testing.T) {
	t.Parallel()
	st := NewMemory()
	_ = st.Close()
	if err := st.Put(context.Background(), "k", nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Put after close err = %v, want ErrClosed", err)
	}
}
