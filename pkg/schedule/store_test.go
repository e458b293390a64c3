package schedule

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func testSchedule(id string) Schedule {
	return Schedule{
		ID:          id,
		Kind:        KindTask,
		Instruction: "check the weather",
		TriggerAtMS: 1700000000000,
		Enabled:     true,
		Recurrence:  Recurrence{Type: RecurrenceOnce},
		CreatedAtMS: 1690000000000,
	}
}

func TestStoreAddGet(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))

	want := testSchedule("sched-1")
	if err := st.Add(want); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	got, err := st.Get("sched-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Instruction != want.Instruction || got.TriggerAtMS != want.TriggerAtMS {
		t.Fatalf("Get = %+v, want %+v", got, want)
	}
	if got.Recurrence.Type != RecurrenceOnce {
		t.Fatalf("recurrence type = %q, want %q", got.Recurrence.Type, RecurrenceOnce)
	}
}

func TestStoreAddRejectsDuplicateID(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))

	if err := st.Add(testSchedule("dup")); err != nil {
		t.Fatalf("first Add failed: %v", err)
	}
	if err := st.Add(testSchedule("dup")); err == nil {
		t.Fatal("expected error adding duplicate id")
	}
}

func TestStoreAddRejectsInvalid(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))

	s := testSchedule("bad")
	s.Instruction = ""
	if err := st.Add(s); err == nil {
		t.Fatal("expected validation error for empty instruction")
	}
}

func TestStoreFilePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions are not meaningful on windows")
	}
	path := filepath.Join(t.TempDir(), "schedules.json")
	st := NewStore(path)

	if err := st.Add(testSchedule("perm")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("store file mode = %o, want 600", got)
	}
}

func TestStoreMutations(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	if err := st.Add(testSchedule("mut")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := st.UpdateTrigger("mut", 1800000000000); err != nil {
		t.Fatalf("UpdateTrigger failed: %v", err)
	}
	if err := st.MarkExecuted("mut", 1750000000000); err != nil {
		t.Fatalf("MarkExecuted failed: %v", err)
	}
	if err := st.SetEnabled("mut", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}

	got, err := st.Get("mut")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TriggerAtMS != 1800000000000 {
		t.Fatalf("TriggerAtMS = %d, want 1800000000000", got.TriggerAtMS)
	}
	if got.LastExecutedAtMS != 1750000000000 {
		t.Fatalf("LastExecutedAtMS = %d, want 1750000000000", got.LastExecutedAtMS)
	}
	if got.Enabled {
		t.Fatal("schedule still enabled after SetEnabled(false)")
	}
}

func TestStoreMutateMissingID(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))

	if err := st.UpdateTrigger("ghost", 1); err != ErrNotFound {
		t.Fatalf("UpdateTrigger on missing id = %v, want ErrNotFound", err)
	}
	if err := st.Remove("ghost"); err != ErrNotFound {
		t.Fatalf("Remove on missing id = %v, want ErrNotFound", err)
	}
}

func TestStoreRemove(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))
	if err := st.Add(testSchedule("a")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := st.Add(testSchedule("b")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	if err := st.Remove("a"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := st.Get("a"); err != ErrNotFound {
		t.Fatalf("Get after Remove = %v, want ErrNotFound", err)
	}
	all, err := st.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != "b" {
		t.Fatalf("All after Remove = %+v, want just b", all)
	}
}

func TestStoreAllMissingFile(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "does-not-exist.json"))

	all, err := st.All()
	if err != nil {
		t.Fatalf("All on missing file failed: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("All on missing file = %+v, want empty", all)
	}
}

func TestStoreOnChangeFires(t *testing.T) {
	st := NewStore(filepath.Join(t.TempDir(), "schedules.json"))

	fired := 0
	st.SetOnChange(func() { fired++ })

	if err := st.Add(testSchedule("notify")); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := st.SetEnabled("notify", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if fired != 2 {
		t.Fatalf("onChange fired %d times, want 2", fired)
	}
}
