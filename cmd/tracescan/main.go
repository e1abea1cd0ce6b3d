// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// tracescan is the offline counterpart to cmd/tracedemo: given one shard's
// output file, it decodes the session header and every deadlock_trace
// record (either wire format, auto-detected unless told otherwise) and
// prints a reconstruction of that shard's happens-before graph (the
// vertex table, the edges between them, and the semaphore event tally)
// the way a postmortem tool walks a log file rather than attaching to a
// live process.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/NVIDIA/shardtrace/traceevent/wire"
)

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v trace-file [ndjson|binary]\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    trace-file     a single shard's output file written by shardtracer\n")
	fmt.Fprintf(file, "    ndjson|binary  wire format to assume; if omitted, detected from the first bytes\n")
}

func main() {
	if len(os.Args) < 2 {
		usage(os.Stderr)
		os.Exit(1)
	}
	tracePath := os.Args[1]

	f, err := os.Open(tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "os.Open(%q) failed: %v\n", tracePath, err)
		os.Exit(1)
	}
	defer f.Close()

	br := bufio.NewReader(f)

	var format wire.Format
	if len(os.Args) > 2 {
		format, err = wire.ParseFormat(os.Args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			os.Exit(1)
		}
	} else {
		format, err = detectFormat(br)
		if err != nil {
			fmt.Fprintf(os.Stderr, "detecting wire format of %q failed: %v\n", tracePath, err)
			os.Exit(1)
		}
	}

	sessionID, rest, err := wire.DecodeSessionHeader(format, br)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decoding session header of %q failed: %v\n", tracePath, err)
		os.Exit(1)
	}

	records, err := wire.Decode(format, rest)
	if err != nil {
		fmt.Fprintf(os.Stderr, "decoding %q failed: %v\n", tracePath, err)
		os.Exit(1)
	}

	fmt.Printf("tracescan: %v (format=%v, session=%v, records=%d)\n", tracePath, format, sessionID, len(records))
	reconstructAndPrint(records)
}

// detectFormat peeks the first two bytes of br without consuming them, so
// wire.DecodeSessionHeader still sees the full stream from the start.
func detectFormat(br *bufio.Reader) (wire.Format, error) {
	peeked, err := br.Peek(2)
	if err != nil && err != io.EOF {
		return wire.NDJSON, err
	}
	return wire.DetectFormat(peeked), nil
}

// vertexInfo accumulates everything tracescan learns about one vertex
// address across the file: the string type its ctor tagged it with (if
// any), the sequence of addresses it moved to, and whether it was ever
// destroyed.
type vertexInfo struct {
	firstSeen  uint64
	typeName   string
	movedTo    []uint64
	destroyed  bool
	semWaits   uint64
	semSignals uint64
}

// reconstructAndPrint walks records in file order and rebuilds the
// per-vertex view a postmortem consumer wants: a vertex table plus the
// edges recorded between causally related vertices.
func reconstructAndPrint(records []wire.Record) {
	strings := make(map[uint32]string)
	vertices := make(map[uint64]*vertexInfo)
	var edges [][2]uint64
	var semCtors, semDtors uint64

	ensure := func(addr uint64, ts uint64) *vertexInfo {
		v, ok := vertices[addr]
		if !ok {
			v = &vertexInfo{firstSeen: ts}
			vertices[addr] = v
		}
		return v
	}

	for _, r := range records {
		switch r.Type {
		case wire.StringID:
			strings[uint32(r.Value)] = r.Extra
		case wire.VertexCtor:
			v := ensure(r.Vertex.Address, r.Timestamp)
			if r.Vertex.TypeID != 0 {
				v.typeName = strings[r.Vertex.TypeID]
			}
		case wire.VertexDtor:
			ensure(r.Vertex.Address, r.Timestamp).destroyed = true
		case wire.VertexMove:
			ensure(r.Pre.Address, r.Timestamp).movedTo = append(ensure(r.Pre.Address, r.Timestamp).movedTo, r.Vertex.Address)
			ensure(r.Vertex.Address, r.Timestamp)
		case wire.Edge:
			edges = append(edges, [2]uint64{r.Pre.Address, r.Vertex.Address})
		case wire.SemCtor:
			semCtors++
		case wire.SemDtor:
			semDtors++
		case wire.SemWait:
			ensure(r.Vertex.Address, r.Timestamp).semWaits += r.Value
		case wire.SemSignal:
			ensure(r.Vertex.Address, r.Timestamp).semSignals += r.Value
		}
	}

	addrs := make([]uint64, 0, len(vertices))
	for addr := range vertices {
		addrs = append(addrs, addr)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	fmt.Printf("  vertices: %d, edges: %d, semaphores: %d (destroyed %d)\n", len(vertices), len(edges), semCtors, semDtors)
	for _, addr := range addrs {
		v := vertices[addr]
		typeName := v.typeName
		if typeName == "" {
			typeName = "<untyped>"
		}
		status := "live"
		if v.destroyed {
			status = "destroyed"
		}
		fmt.Printf("  vertex 0x%x  type=%v  %v", addr, typeName, status)
		if len(v.movedTo) > 0 {
			fmt.Printf("  moved_to=%v", hexList(v.movedTo))
		}
		if v.semWaits > 0 || v.semSignals > 0 {
			fmt.Printf("  sem_waits=%d sem_signals=%d", v.semWaits, v.semSignals)
		}
		fmt.Println()
	}
	for _, e := range edges {
		fmt.Printf("  edge 0x%x -> 0x%x\n", e[0], e[1])
	}
}

func hexList(addrs []uint64) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = fmt.Sprintf("0x%x", a)
	}
	return out
}
