// Package main implements nexusprof, a standalone driver for the Nexus
// trace decoder: it reads a raw Nexus message stream and a plain-text
// instruction image, reconstructs the executed PC sequence core by core,
// and prints it. It does not speak the wire protocol of internal/dispatch
// (that requires a live UI peer to ACK frames); it drives
// internal/nexus and internal/reconstruct directly, the way the teacher's
// cmd/debug_instr and cmd/debug_branchaddr tools exercise a decoder
// against a fixed input without a socket on the other end. Real ELF/
// objdump ingestion stays out of scope (spec.md's Non-goals), so the image
// format here is this tool's own minimal stand-in for one.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"nexusprof/internal/common"
	"nexusprof/internal/nexus"
	"nexusprof/internal/oracle"
	"nexusprof/internal/reconstruct"
)

func main() {
	tracePath := flag.String("trace", "", "path to a raw Nexus message byte stream")
	imagePath := flag.String("image", "", "path to a nexusprof instruction image (see loadImage)")
	srcBits := flag.Int("src-bits", 0, "width in bits of the per-message core_id field, 0 if absent")
	severity := flag.String("severity", "warning", "minimum log severity: debug, info, warning, error")
	flag.Parse()

	if *tracePath == "" || *imagePath == "" {
		fmt.Fprintln(os.Stderr, "nexusprof: -trace and -image are required")
		flag.Usage()
		os.Exit(2)
	}

	log := common.NewStdLogger(parseSeverity(*severity))

	sections, symbols, err := loadImage(*imagePath)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	traceBytes, err := os.ReadFile(*tracePath)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}

	o := oracle.New(sections, symbols, log)
	parser := nexus.NewParser(*srcBits, log)
	framer := nexus.NewFramer(log)
	machine := reconstruct.NewMachine(o, log)
	machine.OnBranchEdge = func(coreID uint32, kind reconstruct.EdgeKind) {
		log.Logf(common.SeverityDebug, "core %d: edge %s", coreID, kind)
	}

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	coreTimestamps := make(map[uint32]uint64)
	var offset uint64
	pos := 0
	for {
		msgBytes, ok := framer.Next(traceBytes, &pos)
		if !ok {
			break
		}
		off := offset
		offset += uint64(len(msgBytes))

		msg, perr := parser.Parse(msgBytes, off, 0)
		if perr != nil {
			log.Logf(common.SeverityWarning, "dropping unparsable message at offset %d: %v", off, perr)
			continue
		}
		if msg.HaveTimestamp {
			prior := coreTimestamps[msg.CoreID]
			msg.Timestamp ^= prior
			coreTimestamps[msg.CoreID] = msg.Timestamp
		}

		samples, merr := machine.Process(msg)
		for _, s := range samples {
			fmt.Fprintf(w, "%d %#016x\n", s.CoreID, s.Addr)
		}
		if merr != nil {
			log.Error(merr)
		}
	}
}

func parseSeverity(s string) common.Severity {
	switch strings.ToLower(s) {
	case "debug":
		return common.SeverityDebug
	case "info":
		return common.SeverityInfo
	case "error":
		return common.SeverityError
	default:
		return common.SeverityWarning
	}
}

// loadImage reads nexusprof's own plain-text instruction image format, one
// directive per line (blank lines and lines starting with # ignored):
//
//	section <hex-start-addr> <hex-halfword> [<hex-halfword> ...]
//	symbol <hex-addr> <hex-size> <name>
//
// A "section" line defines one contiguous code region as a sequence of
// 16-bit code units (spec.md §3's half-word granularity; a 32-bit
// instruction is the concatenation of two consecutive half-words, low word
// first). Multiple section lines may appear; each becomes one oracle
// Section. A "symbol" line attaches a name to an address range for
// oracle.Lookup.Func.
func loadImage(path string) (*oracle.Table, *oracle.SymbolTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, common.NewErrorf(common.FileNotFound, "loadImage: %v", err)
	}
	defer f.Close()

	var sections []*oracle.Section
	var symbols []*oracle.Symbol

	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "section":
			if len(fields) < 3 {
				return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: section needs a start address and at least one half-word", lineNo)
			}
			start, err := strconv.ParseUint(fields[1], 16, 64)
			if err != nil {
				return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: bad start address: %v", lineNo, err)
			}
			code := make([]uint16, 0, len(fields)-2)
			for _, tok := range fields[2:] {
				v, err := strconv.ParseUint(tok, 16, 16)
				if err != nil {
					return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: bad half-word %q: %v", lineNo, tok, err)
				}
				code = append(code, uint16(v))
			}
			sections = append(sections, oracle.NewSection(start, code))

		case "symbol":
			if len(fields) < 4 {
				return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: symbol needs address, size, name", lineNo)
			}
			addr, err := strconv.ParseUint(fields[1], 16, 64)
			if err != nil {
				return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: bad symbol address: %v", lineNo, err)
			}
			size, err := strconv.ParseUint(fields[2], 16, 64)
			if err != nil {
				return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: bad symbol size: %v", lineNo, err)
			}
			symbols = append(symbols, &oracle.Symbol{
				Name:    strings.Join(fields[3:], " "),
				Address: addr,
				Size:    size,
				Flags:   oracle.SymGlobal | oracle.SymFunc,
			})

		default:
			return nil, nil, common.NewErrorf(common.BadMessage, "loadImage:%d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, common.NewErrorf(common.CannotOpenFile, "loadImage: %v", err)
	}

	return oracle.NewTable(sections), oracle.NewSymbolTable(symbols), nil
}
