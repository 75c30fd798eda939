package gormtx_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/bionicotaku/lingo-uow/gormtx"
	"github.com/bionicotaku/lingo-uow/txmanager"
	gormsqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Quiz struct {
	ID    string `gorm:"primaryKey"`
	Title string
}

func setupGorm(t *testing.T) (*gorm.DB, *gormtx.Driver, txmanager.Manager) {
	t.Helper()

	dsn := "file:" + filepath.Join(t.TempDir(), "uow.db") + "?_pragma=busy_timeout(5000)"
	db, err := gorm.Open(gormsqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&Quiz{}))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 单连接：并发事务串行化，避免 SQLITE_BUSY
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	driver := gormtx.ProvideSQLiteDriver(db)
	mgr, err := txmanager.NewManager(driver, txmanager.Config{}, txmanager.WithMetricsEnabled(false))
	require.NoError(t, err)
	return db, driver, mgr
}

func ids(t *testing.T, db *gorm.DB) []string {
	t.Helper()
	var out []string
	require.NoError(t, db.Model(&Quiz{}).Order("id").Pluck("id", &out).Error)
	return out
}

func TestGorm_CommitAndRollback(t *testing.T) {
	db, driver, mgr := setupGorm(t)
	ctx := context.Background()
	assert.Equal(t, "sqlite", driver.System())

	got, err := txmanager.Run(ctx, mgr, txmanager.TxOptions{}, func(ctx context.Context) (int, error) {
		if err := driver.Handle(ctx).Create(&Quiz{ID: "A", Title: "a"}).Error; err != nil {
			return 0, err
		}
		if err := driver.Handle(ctx).Create(&Quiz{ID: "B", Title: "b"}).Error; err != nil {
			return 0, err
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, []string{"A", "B"}, ids(t, db))

	failure := errors.New("not allowed")
	err = mgr.WithinTx(ctx, txmanager.TxOptions{}, func(ctx context.Context) error {
		require.NoError(t, driver.Handle(ctx).Create(&Quiz{ID: "C", Title: "c"}).Error)
		require.NoError(t, driver.Handle(ctx).Create(&Quiz{ID: "D", Title: "d"}).Error)
		return failure
	})
	assert.True(t, err == failure)
	assert.Equal(t, []string{"A", "B"}, ids(t, db))
}

func TestGorm_HandleFallback(t *testing.T) {
	db, driver, _ := setupGorm(t)

	require.NoError(t, driver.Handle(context.Background()).Create(&Quiz{ID: "solo"}).Error)
	assert.Equal(t, []string{"solo"}, ids(t, db))

	_, ok := driver.Tx(context.Background())
	assert.False(t, ok)
	assert.Same(t, db, driver.DB())
}

func TestGorm_Savepoint(t *testing.T) {
	db, driver, mgr := setupGorm(t)

	err := mgr.WithinTx(context.Background(), txmanager.TxOptions{}, func(ctx context.Context) error {
		require.NoError(t, driver.Handle(ctx).Create(&Quiz{ID: "outer"}).Error)

		inner := mgr.WithinTx(ctx, txmanager.TxOptions{Propagation: txmanager.PropagationNested}, func(ctx context.Context) error {
			require.NoError(t, driver.Handle(ctx).Create(&Quiz{ID: "inner"}).Error)
			// 主键冲突
			return driver.Handle(ctx).Create(&Quiz{ID: "outer"}).Error
		})
		require.Error(t, inner)

		var count int64
		require.NoError(t, driver.Handle(ctx).Model(&Quiz{}).Count(&count).Error)
		assert.EqualValues(t, 1, count, "savepoint rollback must drop inner rows only")
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"outer"}, ids(t, db))
}

// TestGorm_ConcurrentScopes 并发事务各自写入自己的数据，失败的一方全部回滚
func TestGorm_ConcurrentScopes(t *testing.T) {
	const workers = 16
	db, driver, mgr := setupGorm(t)

	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			err := mgr.WithinTx(context.Background(), txmanager.TxOptions{}, func(ctx context.Context) error {
				id := fmt.Sprintf("q%02d", i)
				if err := driver.Handle(ctx).Create(&Quiz{ID: id, Title: id}).Error; err != nil {
					return err
				}
				var seen int64
				if err := driver.Handle(ctx).Model(&Quiz{}).Where("id = ?", id).Count(&seen).Error; err != nil {
					return err
				}
				if seen != 1 {
					return fmt.Errorf("worker %d cannot see its own write", i)
				}
				if i%2 == 0 {
					return errSkip
				}
				return nil
			})
			if errors.Is(err, errSkip) {
				return nil
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	got := ids(t, db)
	assert.Len(t, got, workers/2)
	for _, id := range got {
		var n int
		_, err := fmt.Sscanf(id, "q%02d", &n)
		require.NoError(t, err)
		assert.Equal(t, 1, n%2)
	}
}

var errSkip = errors.New("skip")
