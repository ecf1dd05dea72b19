package vm

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// FuncStats accumulates the profiler's per-function counters (spec §4.12).
type FuncStats struct {
	Name        string
	Calls       int64
	TotalTime   int64 // nanoseconds, own + callees
	SelfTime    int64 // nanoseconds, excluding callees
	SampleCount int64
}

// ipStats accumulates per-instruction-pointer sample hits within a
// function, used to build the disassembly-annotated report.
type ipStats struct {
	samples int64
}

// shadowFrame is one entry of the profiler's shadow call stack, kept
// separately from the real Frame chain so profiling overhead never touches
// the hot dispatch path's frame layout.
type shadowFrame struct {
	fn        *Function
	startedAt int64 // UnixNano
	childTime int64 // nanoseconds spent in callees, accumulated as they return
}

// Profiler is an opt-in sampling and call-accounting profiler. Enabling it
// adds a shadow call stack the dispatch loop pushes/pops alongside the
// real frame stack; disabled, it costs nothing (the VM checks a single
// bool before touching it).
type Profiler struct {
	enabled int32 // atomic bool

	mu    sync.Mutex
	stats map[string]*FuncStats
	ips   map[cacheKey]*ipStats

	shadow []shadowFrame

	// SampleInterval gates how often the dispatch loop takes an IP sample;
	// call/return accounting always happens regardless of this interval.
	SampleInterval int
	tick           int64

	// HotThreshold is the call count at which OnHot fires for a function,
	// mirroring the teacher's invocation-count hotness signal extended
	// with wall-clock accounting.
	HotThreshold int64
	OnHot        func(fn *Function)
	firedHot     map[string]bool

	// desyncCount counts shadow-stack pop mismatches caused by an unwind
	// skipping profiler bookkeeping (spec §9 open question: best-effort,
	// not a hard invariant).
	desyncCount int64
}

func NewProfiler() *Profiler {
	return &Profiler{
		stats:          make(map[string]*FuncStats),
		ips:            make(map[cacheKey]*ipStats),
		SampleInterval: 997, // prime, to avoid aliasing with loop periods
		HotThreshold:   10000,
		firedHot:       make(map[string]bool),
	}
}

func (p *Profiler) Enable()  { atomic.StoreInt32(&p.enabled, 1) }
func (p *Profiler) Disable() { atomic.StoreInt32(&p.enabled, 0) }
func (p *Profiler) Enabled() bool { return atomic.LoadInt32(&p.enabled) != 0 }

// OnCall pushes a shadow frame and bumps the call counter for fn.
func (p *Profiler) OnCall(fn *Function) {
	if !p.Enabled() {
		return
	}
	p.mu.Lock()
	s, ok := p.stats[fn.Name]
	if !ok {
		s = &FuncStats{Name: fn.Name}
		p.stats[fn.Name] = s
	}
	s.Calls++
	calls := s.Calls
	threshold := p.HotThreshold
	fired := p.firedHot[fn.Name]
	p.mu.Unlock()

	p.shadow = append(p.shadow, shadowFrame{fn: fn, startedAt: nowNano()})

	if !fired && calls >= threshold && p.OnHot != nil {
		p.mu.Lock()
		p.firedHot[fn.Name] = true
		p.mu.Unlock()
		p.OnHot(fn)
	}
}

// OnReturn pops the shadow frame for fn, folding its elapsed time into its
// own stats and crediting the parent shadow frame's childTime. If the
// shadow stack top does not match fn (an unwind bypassed OnReturn calls
// along the way), it degrades to a best-effort purge and counts a desync
// rather than panicking.
func (p *Profiler) OnReturn(fn *Function) {
	if !p.Enabled() {
		return
	}
	if len(p.shadow) == 0 {
		atomic.AddInt64(&p.desyncCount, 1)
		return
	}
	top := p.shadow[len(p.shadow)-1]
	if top.fn != fn {
		p.resyncShadowStack(fn)
		if len(p.shadow) == 0 {
			return
		}
		top = p.shadow[len(p.shadow)-1]
	}
	p.shadow = p.shadow[:len(p.shadow)-1]

	elapsed := nowNano() - top.startedAt
	self := elapsed - top.childTime
	if self < 0 {
		self = 0
	}

	p.mu.Lock()
	s := p.stats[fn.Name]
	if s != nil {
		s.TotalTime += elapsed
		s.SelfTime += self
	}
	if len(p.shadow) > 0 {
		p.shadow[len(p.shadow)-1].childTime += elapsed
	}
	p.mu.Unlock()
}

// resyncShadowStack pops entries until fn is found or the stack empties,
// used when a try/unwind-protect unwind skipped intervening OnReturn
// calls. Each skipped entry is counted as a desync.
func (p *Profiler) resyncShadowStack(fn *Function) {
	for len(p.shadow) > 0 {
		if p.shadow[len(p.shadow)-1].fn == fn {
			return
		}
		atomic.AddInt64(&p.desyncCount, 1)
		p.shadow = p.shadow[:len(p.shadow)-1]
	}
}

// UnwindDrop pops fn's shadow frame (after resyncing to it) without
// recording its time, for a caller that discards frames without a matching
// OnReturn. The VM's own call path always calls OnReturn, so it does not
// use UnwindDrop.
func (p *Profiler) UnwindDrop(fn *Function) {
	if !p.Enabled() {
		return
	}
	p.resyncShadowStack(fn)
	if len(p.shadow) > 0 && p.shadow[len(p.shadow)-1].fn == fn {
		p.shadow = p.shadow[:len(p.shadow)-1]
	}
}

// SampleIP records a hit at (fn, ip), gated by SampleInterval so the cost
// is amortized across many dispatch iterations.
func (p *Profiler) SampleIP(fn *Function, ip int) {
	if !p.Enabled() {
		return
	}
	p.tick++
	if p.SampleInterval > 0 && p.tick%int64(p.SampleInterval) != 0 {
		return
	}
	key := cacheKey{fn: fn, ip: ip}
	p.mu.Lock()
	st, ok := p.ips[key]
	if !ok {
		st = &ipStats{}
		p.ips[key] = st
	}
	st.samples++
	if s := p.stats[fn.Name]; s != nil {
		s.SampleCount++
	}
	p.mu.Unlock()
}

// DesyncCount returns the number of shadow-stack resync events observed,
// a best-effort diagnostic rather than a correctness signal.
func (p *Profiler) DesyncCount() int64 { return atomic.LoadInt64(&p.desyncCount) }

// TopFunctions returns up to n functions ordered by total time descending,
// sorted with sort.Slice.
func (p *Profiler) TopFunctions(n int) []FuncStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	all := make([]FuncStats, 0, len(p.stats))
	for _, s := range p.stats {
		all = append(all, *s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].TotalTime > all[j].TotalTime })
	if n > 0 && n < len(all) {
		all = all[:n]
	}
	return all
}

func nowNano() int64 { return time.Now().UnixNano() }
