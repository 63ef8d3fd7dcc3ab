package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

// openTestStore opens an in-memory SQLiteStore for use in tests.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func run(course string, ok bool, started time.Time, chunks int) Run {
	r := Run{
		CourseID:   course,
		StartedAt:  started,
		FinishedAt: started.Add(time.Second),
		Documents:  2,
		Chunks:     chunks,
		OK:         ok,
	}
	if !ok {
		r.Error = "upsert failed"
	}
	return r
}

func Test_Store_RecordRunRegistersCourse(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	id, err := s.RecordRun(ctx, run("4629", true, now, 40), "Cálculo I", "/data/4629")
	if err != nil {
		t.Fatalf("record run: %v", err)
	}
	if id == 0 {
		t.Error("want non-zero run id")
	}

	c, err := s.Course(ctx, "4629")
	if err != nil {
		t.Fatalf("course: %v", err)
	}
	if c.Name != "Cálculo I" || c.Dir != "/data/4629" || c.Chunks != 40 || c.Documents != 2 {
		t.Errorf("unexpected course: %+v", c)
	}
	if !c.LastIngestedAt.Equal(now.Add(time.Second)) {
		t.Errorf("last ingested = %v, want %v", c.LastIngestedAt, now.Add(time.Second))
	}
}

func Test_Store_FailedRunDoesNotRegister(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.RecordRun(ctx, run("101", false, time.Now(), 5), "", ""); err != nil {
		t.Fatalf("record run: %v", err)
	}
	if _, err := s.Course(ctx, "101"); !errors.Is(err, ErrNotFound) {
		t.Errorf("want ErrNotFound, got %v", err)
	}
	runs, err := s.RecentRuns(ctx, "101", 10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(runs) != 1 || runs[0].OK || runs[0].Error != "upsert failed" {
		t.Errorf("unexpected runs: %+v", runs)
	}
}

func Test_Store_CourseUpdatedByLaterRun(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	if _, err := s.RecordRun(ctx, run("101", true, t0, 10), "", "/d"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.RecordRun(ctx, run("101", true, t0.Add(time.Hour), 12), "Física", "/d"); err != nil {
		t.Fatal(err)
	}

	courses, err := s.Courses(ctx)
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("want 1 course, got %d", len(courses))
	}
	if courses[0].Chunks != 12 || courses[0].Name != "Física" {
		t.Errorf("course not updated: %+v", courses[0])
	}
}

func Test_Store_CoursesOrderedAndEmpty(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	empty, err := s.Courses(ctx)
	if err != nil {
		t.Fatalf("courses: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("want empty non-nil slice, got %v", empty)
	}

	for _, id := range []string{"300", "100", "200"} {
		if _, err := s.RecordRun(ctx, run(id, true, time.Now(), 1), "", ""); err != nil {
			t.Fatal(err)
		}
	}
	courses, err := s.Courses(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []string{"100", "200", "300"} {
		if courses[i].ID != want {
			t.Errorf("course[%d] = %q, want %q", i, courses[i].ID, want)
		}
		if courses[i].Name != want {
			t.Errorf("name defaults to id: got %q", courses[i].Name)
		}
	}
}

func Test_Store_RecentRunsLimitAndOrder(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	t0 := time.Unix(1_700_000_000, 0)

	for i := range 5 {
		course := "a"
		if i%2 == 1 {
			course = "b"
		}
		if _, err := s.RecordRun(ctx, run(course, true, t0.Add(time.Duration(i)*time.Minute), i), "", ""); err != nil {
			t.Fatal(err)
		}
	}

	all, err := s.RecentRuns(ctx, "", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("want 3 runs, got %d", len(all))
	}
	if all[0].Chunks != 4 || all[2].Chunks != 2 {
		t.Errorf("want newest first, got chunks %d..%d", all[0].Chunks, all[2].Chunks)
	}

	onlyB, err := s.RecentRuns(ctx, "b", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(onlyB) != 2 {
		t.Errorf("want 2 runs for b, got %d", len(onlyB))
	}
	for _, r := range onlyB {
		if r.CourseID != "b" {
			t.Errorf("course isolation failed: %+v", r)
		}
	}
}

func Test_Store_RecordRunRequiresCourse(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	if _, err := s.RecordRun(context.Background(), Run{}, "", ""); err == nil {
		t.Error("want error for empty course id")
	}
}
