package vm

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/marcboeker/go-duckdb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Report is a snapshot of a Profiler's per-function stats and desync count,
// suitable for printing or handing to an external analysis tool.
type Report struct {
	GeneratedAt time.Time
	Functions   []FuncStats
	DesyncCount int64
}

// BuildReport snapshots p's top n functions into a Report.
func BuildReport(p *Profiler, n int) *Report {
	return &Report{
		GeneratedAt: time.Now(),
		Functions:   p.TopFunctions(n),
		DesyncCount: p.DesyncCount(),
	}
}

// Annotate renders fn's disassembly with per-instruction sample counts
// inlined as trailing comments. cmd/vmrun does not call it.
func (p *Profiler) Annotate(fn *Function) string {
	r := NewBytecodeReader(fn.Code)
	out := ""
	wide := false
	for r.HasMore() {
		ip := r.Position()
		var line string
		line, wide = DisassembleInstruction(r, fn, wide)

		p.mu.Lock()
		st := p.ips[cacheKey{fn: fn, ip: ip}]
		p.mu.Unlock()
		if st != nil && st.samples > 0 {
			line = fmt.Sprintf("%-40s ; samples=%d", line, st.samples)
		}
		out += line + "\n"
	}
	return out
}

// ToProto converts r into a structpb.Struct, a codegen-free way to hand a
// structured profiler payload to a host that consumes protobuf's
// well-known JSON-like value types without requiring a compiled .proto
// schema for this package.
func (r *Report) ToProto() (*structpb.Struct, error) {
	fns := make([]interface{}, 0, len(r.Functions))
	for _, f := range r.Functions {
		fns = append(fns, map[string]interface{}{
			"name":         f.Name,
			"calls":        float64(f.Calls),
			"total_time_ns": float64(f.TotalTime),
			"self_time_ns":  float64(f.SelfTime),
			"samples":      float64(f.SampleCount),
		})
	}
	m := map[string]interface{}{
		"generated_at": r.GeneratedAt.Format(time.RFC3339Nano),
		"desync_count": float64(r.DesyncCount),
		"functions":    fns,
	}
	return structpb.NewStruct(m)
}

// ExportDuckDB persists r's function-level rows into a duckdb database at
// path, appending to a `profile_runs` table so successive runs can be
// compared with SQL analytics after the fact.
func ExportDuckDB(path string, r *Report) error {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("vm: opening duckdb profile store: %w", err)
	}
	defer db.Close()

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS profile_runs (
		run_at TIMESTAMP,
		function_name VARCHAR,
		calls BIGINT,
		total_time_ns BIGINT,
		self_time_ns BIGINT,
		samples BIGINT
	)`)
	if err != nil {
		return fmt.Errorf("vm: creating profile_runs table: %w", err)
	}

	stmt, err := db.Prepare(`INSERT INTO profile_runs VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("vm: preparing profile insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range r.Functions {
		if _, err := stmt.Exec(r.GeneratedAt, f.Name, f.Calls, f.TotalTime, f.SelfTime, f.SampleCount); err != nil {
			return fmt.Errorf("vm: inserting profile row for %s: %w", f.Name, err)
		}
	}
	return nil
}
