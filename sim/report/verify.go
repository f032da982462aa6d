package report

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// CheckResult is the outcome of one verification check.
type CheckResult struct {
	Name    string
	Passed  bool
	Details string
}

// VerifyOptions sets the comparison tolerances.
type VerifyOptions struct {
	// Tolerance scales with max(1, |a|, |b|) in every equality check.
	Tolerance float64
	// LittleRelTolerance bounds the mean-jobs identity
	// avg_system_length ≈ avg_queue_length + avg_servers × utilization.
	LittleRelTolerance float64
}

// DefaultVerifyOptions mirrors the run-time invariant defaults.
func DefaultVerifyOptions() VerifyOptions {
	return VerifyOptions{Tolerance: 1e-6, LittleRelTolerance: 0.05}
}

// VerifyReport collects the checks of one run directory.
type VerifyReport struct {
	Label   string
	Results []CheckResult
}

// Passed reports whether every check passed.
func (r *VerifyReport) Passed() bool {
	for _, c := range r.Results {
		if !c.Passed {
			return false
		}
	}
	return true
}

// Failures returns the failing checks.
func (r *VerifyReport) Failures() []CheckResult {
	var out []CheckResult
	for _, c := range r.Results {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// WriteMarkdown renders the report as a Markdown table.
func (r *VerifyReport) WriteMarkdown(w io.Writer) error {
	status := "PASS"
	if !r.Passed() {
		status = "FAIL"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Verification report\n\nInput: `%s`\n\nStatus: **%s** (%d checks, %d failed)\n\n",
		r.Label, status, len(r.Results), len(r.Failures()))
	b.WriteString("| Check | Result | Details |\n|---|---|---|\n")
	for _, c := range r.Results {
		result := "pass"
		if !c.Passed {
			result = "FAIL"
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", c.Name, result, strings.ReplaceAll(c.Details, "|", "\\|"))
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// VerifyDir loads the CSV artifacts in dir and verifies them. Missing or
// unreadable files are reported as failed checks rather than errors.
func VerifyDir(dir string, opts VerifyOptions) *VerifyReport {
	rep := &VerifyReport{Label: dir}
	summary, err := readFile(filepath.Join(dir, SummaryFilename), ReadSummaryCSV)
	if err != nil {
		rep.Results = append(rep.Results, CheckResult{SummaryFilename + " parsed", false, err.Error()})
		return rep
	}
	rep.Results = append(rep.Results, CheckResult{SummaryFilename + " parsed", true, fmt.Sprintf("Loaded %d metrics.", len(summary))})

	tickets, err := readFile(filepath.Join(dir, TicketsFilename), ReadTicketsCSV)
	if err != nil {
		rep.Results = append(rep.Results, CheckResult{TicketsFilename + " parsed", false, err.Error()})
		return rep
	}
	rep.Results = append(rep.Results, CheckResult{TicketsFilename + " parsed", true, fmt.Sprintf("Loaded %d rows.", len(tickets))})

	rep.Results = append(rep.Results, Verify(summary, tickets, opts)...)
	return rep
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	var zero T
	f, err := os.Open(path)
	if err != nil {
		return zero, err
	}
	defer f.Close()
	return parse(f)
}

func approxEqual(a, b, tol float64) bool {
	scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
	return math.Abs(a-b) <= tol*scale
}

var verifyStages = []string{"dev", "review", "testing"}

func cyclesColumn(stage string) string {
	if stage == "testing" {
		return "test_cycles"
	}
	return stage + "_cycles"
}

// stageSamples holds per-stage microdata of tickets that entered the stage.
type stageSamples struct {
	waits, services []float64
	parseFailures   int
}

// collectStageSamples applies the inclusion rule: a ticket counts toward a
// stage when its cycles or service time there are positive.
func collectStageSamples(tickets []Row, tol float64) map[string]*stageSamples {
	out := make(map[string]*stageSamples, len(verifyStages))
	for _, st := range verifyStages {
		s := &stageSamples{}
		for _, row := range tickets {
			cycles, err1 := row.Float(cyclesColumn(st))
			wait, err2 := row.Float("wait_" + st)
			service, err3 := row.Float("service_time_" + st)
			if err1 != nil || err2 != nil || err3 != nil {
				s.parseFailures++
				continue
			}
			switch {
			case cycles > tol || service > tol:
				s.waits = append(s.waits, wait)
				s.services = append(s.services, service)
			case cycles < -tol || service < -tol || wait < -tol:
				s.parseFailures++
			}
		}
		out[st] = s
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return floats.Sum(xs) / float64(len(xs))
}

// Verify recomputes aggregates from the per-ticket microdata and checks
// them, and the summary's own identities, against the summary.
func Verify(summary map[string]float64, tickets []Row, opts VerifyOptions) []CheckResult {
	tol := opts.Tolerance
	samples := collectStageSamples(tickets, tol)

	results := []CheckResult{
		requiredMetricsCheck(summary, "tickets_arrived", "tickets_closed", "closure_rate"),
		summaryBoundsCheck(summary, tol),
		meanJobsIdentityCheck(summary, opts.LittleRelTolerance),
	}

	arrived, hasArrived := summary["tickets_arrived"]
	closed, hasClosed := summary["tickets_closed"]
	if hasArrived {
		results = append(results, countCheck("Tickets arrived count", arrived, len(tickets), tol))
	}
	if hasClosed {
		n := 0
		for _, row := range tickets {
			if row["closed_time"] != "" {
				n++
			}
		}
		results = append(results, countCheck("Tickets closed count", closed, n, tol))
	}
	if rate, ok := summary["closure_rate"]; ok && hasArrived && hasClosed {
		results = append(results, closureRateCheck(rate, arrived, closed, tol))
	}

	results = append(results,
		meanTimeCheck(summary, tickets, tol),
		ticketBoundsCheck(tickets, tol),
		stageCycleConsistencyCheck(tickets, tol),
		waitDecompositionCheck(tickets, tol),
	)
	results = append(results, avgWaitChecks(summary, samples, tol)...)
	results = append(results, stageIdentityChecks(samples, tol)...)
	return results
}

func requiredMetricsCheck(summary map[string]float64, required ...string) CheckResult {
	var missing []string
	for _, m := range required {
		if _, ok := summary[m]; !ok {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return CheckResult{"Required summary metrics present", false, "Missing metrics: " + strings.Join(missing, ", ")}
	}
	return CheckResult{"Required summary metrics present", true, "Found " + strings.Join(required, ", ")}
}

func countCheck(name string, reported float64, counted int, tol float64) CheckResult {
	if approxEqual(reported, float64(counted), tol) {
		return CheckResult{name, true, fmt.Sprintf("Summary reports %v, microdata has %d.", reported, counted)}
	}
	return CheckResult{name, false, fmt.Sprintf("Mismatch: summary reports %v, microdata has %d.", reported, counted)}
}

func closureRateCheck(reported, arrived, closed, tol float64) CheckResult {
	if arrived <= 0 {
		return CheckResult{"Closure rate", true, "No arrivals recorded; skipping closure rate check."}
	}
	computed := closed / arrived
	if approxEqual(reported, computed, tol) {
		return CheckResult{"Closure rate", true, fmt.Sprintf("Reported %.6f vs computed %.6f.", reported, computed)}
	}
	return CheckResult{"Closure rate", false, fmt.Sprintf("Mismatch: reported %.6f vs computed %.6f.", reported, computed)}
}

func meanTimeCheck(summary map[string]float64, tickets []Row, tol float64) CheckResult {
	const name = "Mean time in system"
	var times []float64
	for _, row := range tickets {
		if row["closed_time"] == "" {
			continue
		}
		v, err := row.Float("time_in_system")
		if err != nil {
			continue
		}
		times = append(times, v)
	}
	if len(times) == 0 {
		return CheckResult{name, true, "No closed tickets to evaluate mean time in system."}
	}
	reported, ok := summary["mean_time_in_system"]
	if !ok {
		return CheckResult{name, false, "Summary lacks mean_time_in_system."}
	}
	computed := mean(times)
	if approxEqual(reported, computed, tol) {
		return CheckResult{name, true, fmt.Sprintf("Reported %.6f vs computed %.6f from %d closed tickets.", reported, computed, len(times))}
	}
	return CheckResult{name, false, fmt.Sprintf("Mismatch: reported %.6f vs computed %.6f from %d closed tickets.", reported, computed, len(times))}
}

func ticketBoundsCheck(tickets []Row, tol float64) CheckResult {
	fields := []string{
		"wait_dev", "wait_review", "wait_testing",
		"service_time_dev", "service_time_review", "service_time_testing",
		"total_wait", "time_in_system",
	}
	var violations []string
	for _, row := range tickets {
		id := row["ticket_id"]
		parsed := make(map[string]float64, len(fields))
		for _, f := range fields {
			v, err := row.Float(f)
			if err != nil {
				violations = append(violations, fmt.Sprintf("ticket %s: unable to parse %s", id, f))
				continue
			}
			parsed[f] = v
			if v < -tol {
				violations = append(violations, fmt.Sprintf("ticket %s: %s=%v", id, f, v))
			}
		}
		wait, okW := parsed["total_wait"]
		tis, okT := parsed["time_in_system"]
		if okW && okT && tis+tol < wait {
			violations = append(violations, fmt.Sprintf("ticket %s: time_in_system %v < total_wait %v", id, tis, wait))
		}
	}
	if len(violations) > 0 {
		return CheckResult{"Ticket domain bounds", false, "Violations: " + strings.Join(violations, "; ")}
	}
	return CheckResult{"Ticket domain bounds", true, "Waits and service times non-negative; time_in_system ≥ total_wait."}
}

func stageCycleConsistencyCheck(tickets []Row, tol float64) CheckResult {
	var violations []string
	for _, row := range tickets {
		id := row["ticket_id"]
		for _, st := range verifyStages {
			cyclesCol := cyclesColumn(st)
			cycles, err1 := row.Float(cyclesCol)
			wait, err2 := row.Float("wait_" + st)
			service, err3 := row.Float("service_time_" + st)
			if err1 != nil || err2 != nil || err3 != nil {
				violations = append(violations, fmt.Sprintf("ticket %s: unable to parse cycle data for %s", id, cyclesCol))
				continue
			}
			if !approxEqual(cycles, 0, tol) {
				continue
			}
			if math.Abs(wait) > tol {
				violations = append(violations, fmt.Sprintf("ticket %s: wait_%s=%v with %s=0", id, st, wait, cyclesCol))
			}
			if math.Abs(service) > tol {
				violations = append(violations, fmt.Sprintf("ticket %s: service_time_%s=%v with %s=0", id, st, service, cyclesCol))
			}
		}
	}
	if len(violations) > 0 {
		return CheckResult{"Stage cycle consistency", false, strings.Join(violations, "; ")}
	}
	return CheckResult{"Stage cycle consistency", true, "Zero-cycle stages have zero wait and service time."}
}

func waitDecompositionCheck(tickets []Row, tol float64) CheckResult {
	var violations []string
	for _, row := range tickets {
		id := row["ticket_id"]
		var parts [3]float64
		var bad bool
		for i, st := range verifyStages {
			v, err := row.Float("wait_" + st)
			if err != nil {
				bad = true
				break
			}
			parts[i] = v
		}
		total, err := row.Float("total_wait")
		if bad || err != nil {
			violations = append(violations, fmt.Sprintf("ticket %s: unable to parse wait components", id))
			continue
		}
		if sum := parts[0] + parts[1] + parts[2]; !approxEqual(total, sum, tol) {
			violations = append(violations, fmt.Sprintf("ticket %s: total_wait %v != waits sum %v", id, total, sum))
		}
	}
	if len(violations) > 0 {
		return CheckResult{"Total wait decomposition", false, strings.Join(violations, "; ")}
	}
	return CheckResult{"Total wait decomposition", true, "total_wait equals the sum of stage waits."}
}

const inclusionRule = "Averages use only tickets that entered the stage (service_time>0 or cycles>0)."

func avgWaitChecks(summary map[string]float64, samples map[string]*stageSamples, tol float64) []CheckResult {
	var out []CheckResult
	for _, st := range verifyStages {
		key := "avg_wait_" + st
		s := samples[st]
		reported, ok := summary[key]
		var c CheckResult
		switch {
		case !ok:
			c = CheckResult{st + " wait summary present", false, "Missing " + key + ". " + inclusionRule}
		case len(s.waits) == 0:
			c = CheckResult{st + " average wait", approxEqual(reported, 0, tol),
				fmt.Sprintf("No tickets entered %s; summary %s=%.6f. %s", st, key, reported, inclusionRule)}
		default:
			m := mean(s.waits)
			c = CheckResult{st + " average wait", approxEqual(reported, m, tol),
				fmt.Sprintf("Summary %s=%.6f vs micro mean %.6f (%d samples). %s", key, reported, m, len(s.waits), inclusionRule)}
		}
		if s.parseFailures > 0 {
			c.Details += fmt.Sprintf(" Parse issues for %d rows (excluded).", s.parseFailures)
		}
		out = append(out, c)
	}
	return out
}

// stageIdentityChecks verifies E[T] = E[wait] + E[service] per stage.
func stageIdentityChecks(samples map[string]*stageSamples, tol float64) []CheckResult {
	var out []CheckResult
	for _, st := range verifyStages {
		s := samples[st]
		name := st + " Little identity"
		if len(s.waits) == 0 {
			out = append(out, CheckResult{name, true, "No stage entries for " + st + "; skipping identity check."})
			continue
		}
		totals := make([]float64, len(s.waits))
		floats.AddTo(totals, s.waits, s.services)
		mt, mw, ms := mean(totals), mean(s.waits), mean(s.services)
		out = append(out, CheckResult{name, approxEqual(mt, mw+ms, tol),
			fmt.Sprintf("E[T]=%.6f vs E[wait]+E[service]=%.6f for %d tickets.", mt, mw+ms, len(s.waits))})
	}
	return out
}

func meanJobsIdentityCheck(summary map[string]float64, relTol float64) CheckResult {
	passed := true
	var parts []string
	for _, st := range verifyStages {
		keys := []string{"avg_queue_length_" + st, "avg_servers_" + st, "utilization_" + st, "avg_system_length_" + st}
		var vals [4]float64
		var missing []string
		for i, k := range keys {
			v, ok := summary[k]
			if !ok {
				missing = append(missing, k)
			}
			vals[i] = v
		}
		if len(missing) > 0 {
			passed = false
			parts = append(parts, fmt.Sprintf("%s missing: %s", st, strings.Join(missing, ", ")))
			continue
		}
		queue, servers, util, system := vals[0], vals[1], vals[2], vals[3]
		expected := queue + servers*util
		ok := approxEqual(system, expected, relTol)
		if !ok {
			passed = false
		}
		parts = append(parts, fmt.Sprintf("%s: avg_system_length=%.6f, expected %.6f (within ±%.2f%%: %v)",
			st, system, expected, relTol*100, ok))
	}
	return CheckResult{"Mean jobs identity (Little)", passed, strings.Join(parts, "; ")}
}

func summaryBoundsCheck(summary map[string]float64, tol float64) CheckResult {
	var violations []string
	for _, metric := range sortedMetricNames(summary) {
		v := summary[metric]
		switch {
		case strings.HasPrefix(metric, "avg_wait_"), strings.HasPrefix(metric, "avg_queue_length_"),
			strings.HasPrefix(metric, "throughput_"):
			if v < -tol {
				violations = append(violations, fmt.Sprintf("%s=%v", metric, v))
			}
		case strings.HasPrefix(metric, "utilization_"):
			if v < -tol || v > 1+tol {
				violations = append(violations, fmt.Sprintf("%s=%v", metric, v))
			}
		}
	}
	if len(violations) > 0 {
		return CheckResult{"Summary metric bounds", false, "Out-of-bounds metrics: " + strings.Join(violations, ", ")}
	}
	return CheckResult{"Summary metric bounds", true, "Throughput, waits and queue lengths non-negative; utilizations within [0, 1]."}
}

func sortedMetricNames(m map[string]float64) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
