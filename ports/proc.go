package ports

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// tcpListenState is the st column value for LISTEN in /proc/net/tcp.
const tcpListenState = "0A"

// listeningInodes scans /proc/net/tcp and tcp6 for sockets in LISTEN state
// on the wanted ports, returning socket inode → port.
func listeningInodes(procRoot string, want map[int]bool) (map[uint64]int, error) {
	out := make(map[uint64]int)
	var lastErr error
	found := false

	for _, table := range []string{"net/tcp", "net/tcp6"} {
		f, err := os.Open(filepath.Join(procRoot, table))
		if err != nil {
			lastErr = err
			continue
		}
		err = parseTCPTable(f, want, out)
		f.Close()
		if err != nil {
			lastErr = err
			continue
		}
		found = true
	}

	if !found {
		return nil, fmt.Errorf("no readable tcp tables under %s: %w", procRoot, lastErr)
	}
	return out, nil
}

// parseTCPTable reads one /proc/net/tcp-format table and records inodes of
// listening sockets on wanted ports into inodeToPort.
//
// Format (whitespace-separated, first line is a header):
//
//	sl local_address rem_address st tx_queue:rx_queue tr:tm->when retrnsmt uid timeout inode ...
func parseTCPTable(r io.Reader, want map[int]bool, inodeToPort map[uint64]int) error {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) < 10 {
			continue
		}
		if fields[3] != tcpListenState {
			continue
		}

		// local_address is hexIP:hexPort.
		_, portHex, ok := strings.Cut(fields[1], ":")
		if !ok {
			continue
		}
		port64, err := strconv.ParseUint(portHex, 16, 16)
		if err != nil {
			continue
		}
		port := int(port64)
		if !want[port] {
			continue
		}

		inode, err := strconv.ParseUint(fields[9], 10, 64)
		if err != nil || inode == 0 {
			continue
		}
		inodeToPort[inode] = port
	}
	return sc.Err()
}

// resolveOwners walks /proc/*/fd looking for the processes holding the given
// socket inodes. Processes we cannot inspect (permissions, races with exit)
// are silently skipped.
func resolveOwners(procRoot string, inodeToPort map[uint64]int) []Claim {
	entries, err := os.ReadDir(procRoot)
	if err != nil {
		return nil
	}

	var claims []Claim
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		fdDir := filepath.Join(procRoot, entry.Name(), "fd")
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}

		for _, fd := range fds {
			target, err := os.Readlink(filepath.Join(fdDir, fd.Name()))
			if err != nil {
				continue
			}
			inode, ok := socketInode(target)
			if !ok {
				continue
			}
			port, ok := inodeToPort[inode]
			if !ok {
				continue
			}
			claims = append(claims, Claim{
				Port: port,
				PID:  pid,
				Comm: readComm(procRoot, pid),
			})
		}
	}
	return claims
}

// socketInode extracts N from a "socket:[N]" fd link target.
func socketInode(target string) (uint64, bool) {
	rest, ok := strings.CutPrefix(target, "socket:[")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "]")
	if !ok {
		return 0, false
	}
	inode, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		return 0, false
	}
	return inode, true
}

func readComm(procRoot string, pid int) string {
	data, err := os.ReadFile(filepath.Join(procRoot, strconv.Itoa(pid), "comm"))
	if err != nil {
		return "?"
	}
	return strings.TrimSpace(string(data))
}
