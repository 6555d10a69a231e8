// pkg/report/report.go - Per-action results of a run and the report files written next to the logs.

package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/windowsadmins/pkgdeploy/pkg/installer"
)

// Outcome is how a single action ended. It extends installer.Status with
// decisions that never start a process.
type Outcome string

const (
	OutcomeSucceeded      = Outcome(installer.StatusSucceeded)
	OutcomeRebootRequired = Outcome(installer.StatusRebootRequired)
	OutcomeFailed         = Outcome(installer.StatusFailed)
	OutcomeLaunchFailed   = Outcome(installer.StatusLaunchFailed)
	OutcomeSkipped        = Outcome(installer.StatusSkipped)
	OutcomeNotNeeded      Outcome = "not-needed"
	OutcomeCheckFailed    Outcome = "check-failed"
)

// Failed reports whether the outcome counts against the run.
func (o Outcome) Failed() bool {
	switch o {
	case OutcomeFailed, OutcomeLaunchFailed, OutcomeCheckFailed:
		return true
	}
	return false
}

// Steps of a run, in execution order.
const (
	StepPreamble = "preamble"
	StepPrereq   = "prereq"
	StepPackage  = "package"
)

// ActionResult records one decision or installer invocation.
type ActionResult struct {
	Step     string  `json:"step" yaml:"step"`
	Entry    string  `json:"entry" yaml:"entry"`
	Action   string  `json:"action" yaml:"action"`
	Outcome  Outcome `json:"outcome" yaml:"outcome"`
	ExitCode *int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
	Message  string  `json:"message,omitempty" yaml:"message,omitempty"`
	Command  string  `json:"command,omitempty" yaml:"command,omitempty"`
	Seconds  float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
}

// FromInstaller converts a runner result into an ActionResult. The exit code is
// kept only when a process actually ran.
func FromInstaller(step, entry, action string, res installer.Result) ActionResult {
	ar := ActionResult{
		Step:    step,
		Entry:   entry,
		Action:  action,
		Outcome: Outcome(res.Status),
		Command: res.Command.String(),
		Seconds: res.Duration.Round(time.Millisecond).Seconds(),
	}
	if res.Status != installer.StatusLaunchFailed && res.Status != installer.StatusSkipped {
		code := res.ExitCode
		ar.ExitCode = &code
	}
	if res.Err != nil {
		ar.Message = res.Err.Error()
	}
	return ar
}

// Results is the ordered list of everything a run did.
type Results []ActionResult

// Failed reports whether any action failed.
func (r Results) Failed() bool {
	for _, a := range r {
		if a.Outcome.Failed() {
			return true
		}
	}
	return false
}

// RebootRequired reports whether any installer asked for a reboot.
func (r Results) RebootRequired() bool {
	for _, a := range r {
		if a.Outcome == OutcomeRebootRequired {
			return true
		}
	}
	return false
}

// Summary counts actions per outcome.
func (r Results) Summary() map[Outcome]int {
	counts := make(map[Outcome]int)
	for _, a := range r {
		counts[a.Outcome]++
	}
	return counts
}

// SummaryString renders Summary as "failed=1 succeeded=2", sorted by outcome.
func (r Results) SummaryString() string {
	counts := r.Summary()
	if len(counts) == 0 {
		return "no actions"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[Outcome(k)]))
	}
	return strings.Join(parts, " ")
}

// Report is the document written at the end of a run.
type Report struct {
	Session        string          `json:"session_id" yaml:"session_id"`
	Operation      string          `json:"operation" yaml:"operation"`
	Root           string          `json:"root" yaml:"root"`
	Package        string          `json:"package,omitempty" yaml:"package,omitempty"`
	Version        string          `json:"version,omitempty" yaml:"version,omitempty"`
	CheckOnly      bool            `json:"check_only" yaml:"check_only"`
	Started        time.Time       `json:"start_time" yaml:"start_time"`
	Finished       time.Time       `json:"end_time" yaml:"end_time"`
	Failed         bool            `json:"failed" yaml:"failed"`
	RebootRequired bool            `json:"reboot_required" yaml:"reboot_required"`
	Summary        map[Outcome]int `json:"summary" yaml:"summary"`
	Error          string          `json:"error,omitempty" yaml:"error,omitempty"`
	Results        Results         `json:"results" yaml:"results"`
}

// Finish stamps the end time and derived fields from results.
func (rep *Report) Finish(results Results, runErr error, now time.Time) {
	rep.Finished = now
	rep.Results = results
	if rep.Results == nil {
		rep.Results = Results{}
	}
	rep.Summary = results.Summary()
	rep.Failed = results.Failed() || runErr != nil
	rep.RebootRequired = results.RebootRequired()
	if runErr != nil {
		rep.Error = runErr.Error()
	}
}

// File names written by Write.
const (
	YAMLFileName = "report.yaml"
	JSONFileName = "report.json"
)

// Write stores the report as report.yaml and report.json inside dir.
func (rep *Report) Write(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	y, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding YAML report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, YAMLFileName), y, 0o644); err != nil {
		return fmt.Errorf("writing YAML report: %w", err)
	}

	return writeJSONFile(filepath.Join(dir, JSONFileName), rep)
}

func writeJSONFile(path string, v interface{}) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("writing JSON report: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
