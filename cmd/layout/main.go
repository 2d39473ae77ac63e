//go:build linux

// Prints the control/egress region layout the runtime computes for a
// given thread count, so operators can check huge-page reservations and
// compare geometry between independently built binaries.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/romshark/iokring-go/ioq"
	"github.com/romshark/iokring-go/shm"
	"github.com/romshark/iokring-go/shmstat"
)

func main() {
	fThreads := flag.Uint("t", 1, "execution thread count")
	fLive := flag.Bool("live", false, "also report live segments from /proc")
	flag.Parse()

	threads := uint32(*fThreads)
	if threads < 1 {
		fmt.Fprintln(os.Stderr, "thread count must be >= 1")
		os.Exit(1)
	}

	size := ioq.ControlRegionSize(threads)
	hugePages := size / ioq.PageSize2MB

	p := message.NewPrinter(language.English)

	p.Printf("control/egress region for %d thread(s)\n", threads)
	p.Printf(" total size:         %s (%d bytes)\n", humanize.IBytes(size), size)
	p.Printf(" huge pages (2MB):   %d\n", hugePages)
	p.Printf(" channels:           %d (3 per thread)\n", 3*threads)
	p.Printf(" packet queue slots: %d\n", ioq.PacketQueueSlots)
	p.Printf(" command queue slots:%d\n", ioq.CommandQueueSlots)
	p.Printf(" egress buffer pool: %s (%d x %s)\n",
		humanize.IBytes(uint64(ioq.EgressBufLen*ioq.PacketQueueSlots)),
		ioq.PacketQueueSlots, humanize.IBytes(ioq.EgressBufLen))
	p.Printf("\ningress region\n")
	p.Printf(" key:                %#08x\n", uint32(ioq.IngressShmKey))
	p.Printf(" total size:         %s\n", humanize.IBytes(uint64(ioq.IngressShmSize)))

	if *fLive {
		stats, err := shmstat.Snapshot(ioq.IngressShmKey)
		if err != nil {
			fmt.Fprintf(os.Stderr, "reading segment table: %v\n", err)
			os.Exit(1)
		}
		fmt.Println()
		if len(stats) == 0 {
			fmt.Println("no live ingress segment")
			return
		}
		_ = shmstat.Print(os.Stdout, stats, map[shm.Key]string{
			ioq.IngressShmKey: "ingress",
		})
	}
}
