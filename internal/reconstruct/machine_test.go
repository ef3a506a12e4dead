package reconstruct

import (
	"testing"

	"nexusprof/internal/nexus"
	"nexusprof/internal/oracle"
)

// fakeOracle resolves a fixed map of address -> decoded instruction,
// standing in for the ELF-backed oracle.Oracle in these state-machine-only
// tests (spec.md §4.2 is defined independently of §4.3's ELF plumbing).
type fakeOracle struct {
	instrs map[uint64]*oracle.Decoded
}

func (f *fakeOracle) Resolve(addr uint64) (*oracle.Lookup, error) {
	d, ok := f.instrs[addr]
	if !ok {
		return nil, errNoInstr(addr)
	}
	return &oracle.Lookup{Addr: addr, Instr: d}, nil
}

type errNoInstr uint64

func (e errNoInstr) Error() string { return "no instruction at address" }

func syncMsg(core uint32, fAddr uint64) *nexus.Message {
	return &nexus.Message{TCode: nexus.TCodeSync, CoreID: core, FAddr: fAddr >> 1, HaveFAddr: true}
}

func directBranchMsg(core uint32, iCnt uint64) *nexus.Message {
	return &nexus.Message{TCode: nexus.TCodeDirectBranch, CoreID: core, ICnt: iCnt, HaveICnt: true}
}

// TestScenarioS1SyncThenDirectBranch is spec.md §8 S1: sync at 0x80001000,
// i_cnt=0, then a direct branch with i_cnt=3 over addi;addi;beq+16.
func TestScenarioS1SyncThenDirectBranch(t *testing.T) {
	o := &fakeOracle{instrs: map[uint64]*oracle.Decoded{
		0x80001000: {Size: 4, Class: oracle.ClassUnknown},
		0x80001004: {Size: 4, Class: oracle.ClassUnknown},
		0x80001008: {Size: 4, Class: oracle.ClassBranch, Imm: 16},
	}}
	m := NewMachine(o, nil)

	if _, err := m.Process(syncMsg(0, 0x80001000)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	samples, err := m.Process(directBranchMsg(0, 3))
	if err != nil {
		t.Fatalf("direct branch: %v", err)
	}
	want := []uint64{0x80001000, 0x80001004, 0x80001008}
	if len(samples) != len(want) {
		t.Fatalf("got %d samples, want %d: %+v", len(samples), len(want), samples)
	}
	for i, s := range samples {
		if s.Addr != want[i] {
			t.Fatalf("sample %d: got %#x want %#x", i, s.Addr, want[i])
		}
	}
	cs := m.CoreState(0)
	if cs.CurrentAddress != 0x80001018 {
		t.Fatalf("got current_address %#x, want 0x80001018", cs.CurrentAddress)
	}
}

// TestScenarioS2IndirectBranchXOR is spec.md §8 S2: last_faddr=0x80000000,
// IndirectBranch i_cnt=1 u_addr=0x800 over a jalr at 0x80000000.
func TestScenarioS2IndirectBranchXOR(t *testing.T) {
	o := &fakeOracle{instrs: map[uint64]*oracle.Decoded{
		0x80000000: {Size: 4, Class: oracle.ClassJALR},
	}}
	m := NewMachine(o, nil)

	if _, err := m.Process(syncMsg(0, 0x80000000)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	samples, err := m.Process(&nexus.Message{
		TCode: nexus.TCodeIndirectBranch, CoreID: 0,
		ICnt: 1, HaveICnt: true, UAddr: 0x00000800, HaveUAddr: true,
	})
	if err != nil {
		t.Fatalf("indirect branch: %v", err)
	}
	if len(samples) != 1 || samples[0].Addr != 0x80000000 {
		t.Fatalf("got %+v, want one sample at 0x80000000", samples)
	}
	cs := m.CoreState(0)
	if cs.CurrentAddress != 0x80001000 || cs.LastFAddr != 0x80001000 {
		t.Fatalf("got current_address=%#x last_faddr=%#x, want both 0x80001000", cs.CurrentAddress, cs.LastFAddr)
	}
}

// TestScenarioS3HistoryConsumption is spec.md §8 S3: history=0b10110 yields
// outcomes {not-taken, taken, taken, not-taken} consumed MSB-down below the
// stop bit. Four conditional branches sit at the start of an 8-instruction
// segment, each branching to its own fallthrough address (so the sample
// sequence is address+4 regardless of outcome) to isolate the history
// consumption from address reconstruction, which S1/S2 already cover.
func TestScenarioS3HistoryConsumption(t *testing.T) {
	instrs := map[uint64]*oracle.Decoded{}
	for i := 0; i < 4; i++ {
		addr := uint64(0x1000 + i*4)
		instrs[addr] = &oracle.Decoded{Size: 4, Class: oracle.ClassBranch, Imm: 4}
	}
	for i := 4; i < 8; i++ {
		addr := uint64(0x1000 + i*4)
		instrs[addr] = &oracle.Decoded{Size: 4, Class: oracle.ClassUnknown}
	}
	o := &fakeOracle{instrs: instrs}
	m := NewMachine(o, nil)
	if _, err := m.Process(syncMsg(0, 0x1000)); err != nil {
		t.Fatalf("sync: %v", err)
	}

	var outcomes []bool
	m.OnBranchEdge = func(_ uint32, kind EdgeKind) {
		switch kind {
		case EdgeBranchTaken:
			outcomes = append(outcomes, true)
		case EdgeBranchNotTaken:
			outcomes = append(outcomes, false)
		}
	}

	msg := &nexus.Message{
		TCode: nexus.TCodeIndirectBranchHistory, CoreID: 0,
		ICnt: 8, HaveICnt: true,
		History: 0b10110, HaveHistory: true,
		UAddr: 0, HaveUAddr: true,
	}
	samples, err := m.Process(msg)
	if err != nil {
		t.Fatalf("indirect history: %v", err)
	}
	if len(samples) != 8 {
		t.Fatalf("got %d samples, want 8: %+v", len(samples), samples)
	}

	want := []bool{false, true, true, false}
	if len(outcomes) != len(want) {
		t.Fatalf("got %d outcomes %v, want %v", len(outcomes), outcomes, want)
	}
	for i := range want {
		if outcomes[i] != want[i] {
			t.Fatalf("outcome %d: got %v want %v", i, outcomes[i], want[i])
		}
	}
}

// TestRepeatBranchWithoutPrecedingDirectBranchIsError covers spec.md §9
// Open Question 2.
func TestRepeatBranchWithoutPrecedingDirectBranchIsError(t *testing.T) {
	o := &fakeOracle{instrs: map[uint64]*oracle.Decoded{}}
	m := NewMachine(o, nil)
	if _, err := m.Process(syncMsg(0, 0x1000)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := m.Process(&nexus.Message{TCode: nexus.TCodeRepeatBranch, CoreID: 0, BCnt: 2}); err == nil {
		t.Fatalf("expected error for RepeatBranch with no preceding direct branch")
	}
	if m.CoreState(0).State != StateError {
		t.Fatalf("expected core to enter Error state")
	}
}

// TestDirectBranchICntOneEmitsOnlyTheBranch checks that a direct branch
// with i_cnt=1 emits only the branch instruction itself (i_cnt counts it),
// moves to the JAL target and pushes the return address. spec.md §8's
// i_cnt=0 boundary case (immediate retirement with no PC emission) is
// handled in handleAwaitingMessage and is not exercised here.
func TestDirectBranchICntOneEmitsOnlyTheBranch(t *testing.T) {
	o := &fakeOracle{instrs: map[uint64]*oracle.Decoded{
		0x1000: {Size: 4, Class: oracle.ClassJAL, Imm: 0x100, Rd: 1},
	}}
	m := NewMachine(o, nil)
	if _, err := m.Process(syncMsg(0, 0x1000)); err != nil {
		t.Fatalf("sync: %v", err)
	}
	samples, err := m.Process(directBranchMsg(0, 1))
	if err != nil {
		t.Fatalf("direct branch: %v", err)
	}
	if len(samples) != 1 || samples[0].Addr != 0x1000 {
		t.Fatalf("got %+v", samples)
	}
	if m.CoreState(0).CurrentAddress != 0x1100 {
		t.Fatalf("got current_address %#x, want 0x1100", m.CoreState(0).CurrentAddress)
	}
	if len(m.CoreState(0).CallStack.addrs) != 1 || m.CoreState(0).CallStack.addrs[0] != 0x1004 {
		t.Fatalf("expected a pushed return address 0x1004, got %v", m.CoreState(0).CallStack.addrs)
	}
}
