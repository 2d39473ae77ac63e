//go:build linux

// Package shmstat reports System V shared memory segment usage from
// the kernel's /proc/sysvipc/shm table.
package shmstat

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/dustin/go-humanize"

	"github.com/romshark/iokring-go/shm"
)

const procShmPath = "/proc/sysvipc/shm"

// Segment is one row of the kernel segment table.
type Segment struct {
	Key    shm.Key
	ShmID  int
	Size   uint64
	Nattch uint64
	RSS    uint64
}

// Stats holds segments of interest indexed by key.
type Stats map[shm.Key]Segment

// Snapshot reads the kernel segment table and returns the rows whose
// key is in keys. Keys without a live segment are simply absent.
func Snapshot(keys ...shm.Key) (Stats, error) {
	out, err := os.ReadFile(procShmPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", procShmPath, err)
	}
	return parse(out, keys)
}

func parse(table []byte, keys []shm.Key) (Stats, error) {
	want := make(map[shm.Key]bool, len(keys))
	for _, k := range keys {
		want[k] = true
	}

	found := make(Stats, len(keys))

	sc := bufio.NewScanner(bytes.NewReader(table))
	sc.Scan() // column header line
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}

		// key shmid perms size cpid lpid nattch uid gid cuid cgid
		// atime dtime ctime rss swap
		var key int64
		var shmid int
		var perms string
		var size, cpid, lpid, nattch uint64
		var uid, gid, cuid, cgid, atime, dtime, ctime uint64
		var rss, swap uint64
		_, err := fmt.Sscan(string(line),
			&key, &shmid, &perms, &size, &cpid, &lpid, &nattch,
			&uid, &gid, &cuid, &cgid, &atime, &dtime, &ctime,
			&rss, &swap)
		if err != nil {
			return nil, fmt.Errorf("scanning segment row: %w", err)
		}

		k := shm.Key(uint32(key))
		if !want[k] {
			continue
		}
		found[k] = Segment{
			Key:    k,
			ShmID:  shmid,
			Size:   size,
			Nattch: nattch,
			RSS:    rss,
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading segment table: %w", err)
	}

	return found, nil
}

// Print writes one line per segment, sorted by key, with optional
// human-readable aliases.
func Print(w io.Writer, s Stats, aliases map[shm.Key]string) error {
	keys := make([]shm.Key, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	for _, k := range keys {
		seg := s[k]

		if alias, ok := aliases[k]; ok {
			fmt.Fprintf(w, "%#08x (%s):\n", uint32(k), alias)
		} else {
			fmt.Fprintf(w, "%#08x :\n", uint32(k))
		}

		fmt.Fprintf(w, "  size    %-8s (%s)\n",
			humanize.IBytes(seg.Size), humanize.Comma(int64(seg.Size)))
		fmt.Fprintf(w, "  rss     %-8s  attached %d\n",
			humanize.IBytes(seg.RSS), seg.Nattch)
	}

	return nil
}
