package ports

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"
)

const tcpTable = `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1538 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 40001 1 0000000000000000 100 0 0 10 0
   1: 0100007F:1F41 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 40002 1 0000000000000000 100 0 0 10 0
   2: 0100007F:1F41 0100007F:A3D2 01 00000000:00000000 00:00000000 00000000  1000        0 40003 1 0000000000000000 100 0 0 10 0
`

func TestParseTCPTable(t *testing.T) {
	want := map[int]bool{0x1538: true, 0x1F41: true}
	got := make(map[uint64]int)
	if err := parseTCPTable(strings.NewReader(tcpTable), want, got); err != nil {
		t.Fatal(err)
	}

	// 0x1538 = 5432, 0x1F41 = 8001. The third row is ESTABLISHED and must
	// be ignored.
	if got[40001] != 5432 {
		t.Errorf("inode 40001 → %d, want 5432", got[40001])
	}
	if got[40002] != 8001 {
		t.Errorf("inode 40002 → %d, want 8001", got[40002])
	}
	if _, ok := got[40003]; ok {
		t.Error("established connection must not be treated as a listener")
	}
}

func TestParseTCPTable_FiltersUnwantedPorts(t *testing.T) {
	got := make(map[uint64]int)
	if err := parseTCPTable(strings.NewReader(tcpTable), map[int]bool{80: true}, got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %v, want no matches", got)
	}
}

func TestSocketInode(t *testing.T) {
	if inode, ok := socketInode("socket:[40001]"); !ok || inode != 40001 {
		t.Errorf("socketInode(socket:[40001]) = %d, %v", inode, ok)
	}
	for _, target := range []string{"/dev/null", "pipe:[123]", "socket:[x]"} {
		if _, ok := socketInode(target); ok {
			t.Errorf("socketInode(%q) should not match", target)
		}
	}
}

// fakeProc builds a minimal procfs tree: one listener on port 5432 owned by
// the given fake pid.
func fakeProc(t *testing.T, pid int) string {
	t.Helper()
	root := t.TempDir()

	table := `  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode
   0: 0100007F:1538 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 40001 1 0000000000000000 100 0 0 10 0
`
	if err := os.MkdirAll(filepath.Join(root, "net"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(table), 0o644); err != nil {
		t.Fatal(err)
	}

	pidDir := filepath.Join(root, strconv.Itoa(pid))
	if err := os.MkdirAll(filepath.Join(pidDir, "fd"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("socket:[40001]", filepath.Join(pidDir, "fd", "3")); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(pidDir, "comm"), []byte("stale-db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestLookup(t *testing.T) {
	r := &Reclaimer{ProcRoot: fakeProc(t, 4242)}

	claims, err := r.Lookup([]int{5432, 9999})
	if err != nil {
		t.Fatal(err)
	}
	if len(claims) != 1 {
		t.Fatalf("claims = %v, want exactly one", claims)
	}
	c := claims[0]
	if c.Port != 5432 || c.PID != 4242 || c.Comm != "stale-db" {
		t.Errorf("claim = %+v", c)
	}
}

func TestReclaim_TerminatesListener(t *testing.T) {
	var signals []syscall.Signal
	alive := true

	r := &Reclaimer{
		ProcRoot: fakeProc(t, 4242),
		Grace:    50 * time.Millisecond,
		kill: func(pid int, sig syscall.Signal) error {
			if pid != 4242 {
				t.Errorf("signalled pid %d, want 4242", pid)
			}
			if !alive {
				return syscall.ESRCH
			}
			signals = append(signals, sig)
			if sig == syscall.SIGTERM {
				alive = false // exits promptly on SIGTERM
			}
			return nil
		},
	}

	freed := r.Reclaim(context.Background(), []int{5432})
	if len(freed) != 1 {
		t.Fatalf("freed = %v, want one claim", freed)
	}
	if c := freed[0]; c.Port != 5432 || c.PID != 4242 || c.Comm != "stale-db" {
		t.Errorf("freed claim = %+v", c)
	}
	if len(signals) != 1 || signals[0] != syscall.SIGTERM {
		t.Errorf("signals = %v, want a single SIGTERM", signals)
	}
}

func TestReclaim_EscalatesToSIGKILL(t *testing.T) {
	var got []syscall.Signal

	r := &Reclaimer{
		ProcRoot: fakeProc(t, 4242),
		Grace:    100 * time.Millisecond,
		kill: func(pid int, sig syscall.Signal) error {
			if sig != 0 {
				got = append(got, sig) // ignores SIGTERM, stays alive
			}
			return nil
		},
	}

	freed := r.Reclaim(context.Background(), []int{5432})
	if len(freed) != 1 {
		t.Errorf("freed = %v, want one claim (kill reported no error)", freed)
	}
	if len(got) != 2 || got[0] != syscall.SIGTERM || got[1] != syscall.SIGKILL {
		t.Errorf("signals = %v, want [SIGTERM SIGKILL]", got)
	}
}

func TestReclaim_NothingListening(t *testing.T) {
	r := &Reclaimer{ProcRoot: fakeProc(t, 4242)}
	if freed := r.Reclaim(context.Background(), []int{9999}); len(freed) != 0 {
		t.Errorf("freed = %v, want nothing", freed)
	}
}

func TestReclaim_NeverKillsSelf(t *testing.T) {
	r := &Reclaimer{
		ProcRoot: fakeProc(t, os.Getpid()),
		kill: func(pid int, sig syscall.Signal) error {
			t.Errorf("signal %v sent to own pid", sig)
			return nil
		},
	}
	if freed := r.Reclaim(context.Background(), []int{5432}); len(freed) != 0 {
		t.Errorf("freed = %v, want nothing", freed)
	}
}
