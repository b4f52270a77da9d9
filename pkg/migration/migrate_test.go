package migration

import (
	"context"
	"database/sql"
	"slices"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("インメモリDBの作成に失敗: %v", err)
	}
	// :memory: は接続ごとに別DBになるため1接続に固定する
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"migrations/000002_add_index.up.sql": {Data: []byte(`CREATE INDEX idx_items_name ON items(name);`)},
		"migrations/000001_init.up.sql":      {Data: []byte(`CREATE TABLE items (id INTEGER PRIMARY KEY, name TEXT);`)},
		"migrations/000001_init.down.sql":    {Data: []byte(`DROP TABLE items;`)},
		"migrations/README.md":               {Data: []byte(`ignored`)},
		"migrations/notanumber_skip.up.sql":  {Data: []byte(`SELECT 1;`)},
	}

	t.Run("未適用のマイグレーションを順に適用し、再実行では何もしないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		ctx := context.Background()

		applied, err := Run(ctx, db, fsys, "migrations")
		if err != nil {
			t.Fatalf("Run()でエラーが発生: %v", err)
		}
		if !slices.Equal(applied, []int{1, 2}) {
			t.Errorf("適用したバージョン = %v, want [1 2]", applied)
		}

		if _, err := db.Exec(`INSERT INTO items (name) VALUES ('x')`); err != nil {
			t.Errorf("テーブルが作成されていない: %v", err)
		}

		again, err := Run(ctx, db, fsys, "migrations")
		if err != nil {
			t.Fatalf("2回目のRun()でエラーが発生: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("2回目に適用したバージョン = %v, want none", again)
		}
	})

	t.Run("SQLが不正な場合はエラーを返しバージョンを記録しないこと", func(t *testing.T) {
		t.Parallel()

		db := openTestDB(t)
		broken := fstest.MapFS{
			"m/000001_broken.up.sql": {Data: []byte(`CREATE TABLE (`)},
		}

		if _, err := Run(context.Background(), db, broken, "m"); err == nil {
			t.Fatal("エラーが返されなかった")
		}
		var count int
		if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
			t.Fatalf("件数の取得に失敗: %v", err)
		}
		if count != 0 {
			t.Errorf("記録されたバージョン数 = %d, want 0", count)
		}
	})
}

func TestCollect(t *testing.T) {
	t.Parallel()

	t.Run("バージョンの重複はエラーになること", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"m/000001_a.up.sql": {Data: []byte(`SELECT 1;`)},
			"m/000001_b.up.sql": {Data: []byte(`SELECT 2;`)},
		}
		if _, err := Collect(fsys, "m"); err == nil {
			t.Error("エラーが返されなかった")
		}
	})

	t.Run("名前とパスを取り出せること", func(t *testing.T) {
		t.Parallel()

		fsys := fstest.MapFS{
			"m/000003_create_users.up.sql": {Data: []byte(`SELECT 1;`)},
		}
		files, err := Collect(fsys, "m")
		if err != nil {
			t.Fatalf("Collect()でエラーが発生: %v", err)
		}
		if len(files) != 1 || files[0].Version != 3 || files[0].Name != "create_users" || files[0].Path != "m/000003_create_users.up.sql" {
			t.Errorf("files = %+v", files)
		}
	})
}
