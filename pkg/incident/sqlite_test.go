package incident

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func openTestLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	l, err := OpenSQLite(filepath.Join(t.TempDir(), "incidents.db"))
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func testIncident(id, student string, typ Type, ts time.Time) *Incident {
	return &Incident{
		ID:        id,
		StudentID: student,
		Timestamp: ts,
		ImagePath: "/tmp/" + id + ".jpg",
		Type:      typ,
	}
}

func TestOpenSQLite_CreatesSchema(t *testing.T) {
	l := openTestLedger(t)

	for _, table := range []string{"incidents", "_migrations"} {
		var name string
		err := l.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not found: %v", table, err)
		}
	}

	var journalMode string
	if err := l.conn.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("PRAGMA journal_mode error = %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("journal_mode = %s, want wal", journalMode)
	}
}

func TestMigrations_EachIndexCreatedOnce(t *testing.T) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir error = %v", err)
	}

	owner := make(map[string]string)
	for _, entry := range entries {
		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			t.Fatalf("ReadFile error = %v", err)
		}
		for _, line := range strings.Split(string(content), "\n") {
			fields := strings.Fields(line)
			if len(fields) < 6 || !strings.EqualFold(fields[1], "INDEX") {
				continue
			}
			index := fields[5]
			if prev, ok := owner[index]; ok {
				t.Errorf("index %s created by both %s and %s", index, prev, entry.Name())
			}
			owner[index] = entry.Name()
		}
	}

	l := openTestLedger(t)
	for index := range owner {
		var name string
		err := l.conn.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		if err != nil {
			t.Errorf("index %s not found: %v", index, err)
		}
	}
	if len(owner) != 2 {
		t.Errorf("found %d indexes in migrations, want 2", len(owner))
	}
}

func TestOpenSQLite_MigrationsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.db")

	l1, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first OpenSQLite() error = %v", err)
	}
	_ = l1.Close()

	l2, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("second OpenSQLite() error = %v", err)
	}
	defer l2.Close()

	var count int
	if err := l2.conn.QueryRow("SELECT COUNT(*) FROM _migrations").Scan(&count); err != nil {
		t.Fatalf("count migrations error = %v", err)
	}
	if count != 2 {
		t.Errorf("migration count = %d, want 2", count)
	}
}

func TestSQLiteLedger_AppendAndList(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rows := []*Incident{
		testIncident("i1", "s1", TypeNoFace, base),
		testIncident("i2", "s1", TypeFaceMismatch, base.Add(time.Second)),
		testIncident("i3", "s2", TypeProcessingError, base.Add(2*time.Second)),
	}
	for _, inc := range rows {
		if err := l.Append(ctx, inc); err != nil {
			t.Fatalf("Append(%s) error = %v", inc.ID, err)
		}
	}

	all, err := l.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 incidents, got %d", len(all))
	}
	if all[0].ID != "i3" || all[2].ID != "i1" {
		t.Errorf("expected newest first, got %s..%s", all[0].ID, all[2].ID)
	}
	if !all[2].Timestamp.Equal(base) {
		t.Errorf("timestamp = %v, want %v", all[2].Timestamp, base)
	}

	s1, _ := l.List(ctx, Filter{StudentID: "s1"})
	if len(s1) != 2 {
		t.Errorf("expected 2 incidents for s1, got %d", len(s1))
	}

	mismatches, _ := l.List(ctx, Filter{Type: TypeFaceMismatch})
	if len(mismatches) != 1 || mismatches[0].ID != "i2" {
		t.Errorf("type filter returned %+v", mismatches)
	}

	limited, _ := l.List(ctx, Filter{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("expected 1 incident with limit, got %d", len(limited))
	}

	none, err := l.List(ctx, Filter{StudentID: "nobody"})
	if err != nil || none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %v, %v", none, err)
	}
}

func TestSQLiteLedger_AppendValidates(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	tests := []struct {
		name string
		inc  *Incident
	}{
		{"nil", nil},
		{"no id", testIncident("", "s1", TypeNoFace, time.Now())},
		{"no student", testIncident("x", "", TypeNoFace, time.Now())},
		{"bad type", testIncident("x", "s1", Type("other"), time.Now())},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := l.Append(ctx, tt.inc); !errors.Is(err, ErrInvalidIncident) {
				t.Errorf("expected ErrInvalidIncident, got %v", err)
			}
		})
	}

	dup := testIncident("dup", "s1", TypeNoFace, time.Now())
	if err := l.Append(ctx, dup); err != nil {
		t.Fatalf("Append error = %v", err)
	}
	if err := l.Append(ctx, dup); err == nil {
		t.Error("duplicate id should fail")
	}
}

func TestSQLiteLedger_ConcurrentAppends(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- l.Append(ctx, testIncident(fmt.Sprintf("c%d", i), "s1", TypeFaceMismatch, time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("concurrent Append error = %v", err)
		}
	}

	all, err := l.List(ctx, Filter{Limit: MaxListLimit})
	if err != nil {
		t.Fatalf("List error = %v", err)
	}
	if len(all) != n {
		t.Errorf("expected %d incidents, got %d", n, len(all))
	}
}

func TestFilter_Limit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-1, DefaultListLimit},
		{10, 10},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		if got := (Filter{Limit: tt.in}).limit(); got != tt.want {
			t.Errorf("limit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), "mysql", "", ""); !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("expected ErrUnknownDriver, got %v", err)
	}
}
