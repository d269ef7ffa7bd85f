// Package audit validates guild stores and tracks per-channel snapshots over time.
package audit

import (
	"fmt"
	"strings"

	"archive-bot/models"
)

// Severity decides whether a failed check fails the audit.
type Severity int

const (
	// SeverityInfo checks are reported only.
	SeverityInfo Severity = iota
	// SeverityHard checks must pass.
	SeverityHard
)

// String returns the severity label used in reports and metrics.
func (s Severity) String() string {
	switch s {
	case SeverityHard:
		return "hard"
	case SeverityInfo:
		return "info"
	default:
		return fmt.Sprintf("severity(%d)", s)
	}
}

// maxDetailRows bounds the row-level detail kept per check.
const maxDetailRows = 20

// Check is the outcome of one check against one guild.
type Check struct {
	Name     string
	Severity Severity
	Passed   bool
	// Summary is a one-line description of what was found.
	Summary string
	// Count is the number of offending rows, files or channels.
	Count int
	// Details holds up to maxDetailRows offending entries.
	Details []string
}

// Failed reports whether the check is a failing hard check.
func (c Check) Failed() bool {
	return c.Severity == SeverityHard && !c.Passed
}

func (c *Check) add(detail string) {
	c.Count++
	if len(c.Details) < maxDetailRows {
		c.Details = append(c.Details, detail)
	}
}

// GuildResult is the audit of one guild store.
type GuildResult struct {
	GuildID   string
	Checks    []Check
	Snapshots []models.AuditSnapshot
}

// Failed reports whether any hard check failed.
func (g GuildResult) Failed() bool {
	for _, c := range g.Checks {
		if c.Failed() {
			return true
		}
	}
	return false
}

// Summary is a one-line outcome for the status file.
func (g GuildResult) Summary() string {
	hard := 0
	for _, c := range g.Checks {
		if c.Failed() {
			hard++
		}
	}
	return fmt.Sprintf("%d checks, %d hard failures, %d channels snapshotted", len(g.Checks), hard, len(g.Snapshots))
}

// Report is the outcome of one audit invocation.
type Report struct {
	Guilds []GuildResult
}

// Passed reports whether every hard check of every guild passed.
func (r Report) Passed() bool {
	for _, g := range r.Guilds {
		if g.Failed() {
			return false
		}
	}
	return true
}

// Checks flattens the checks of every guild.
func (r Report) Checks() []Check {
	var checks []Check
	for _, g := range r.Guilds {
		checks = append(checks, g.Checks...)
	}
	return checks
}

// String renders the report with row-level detail for failed checks.
func (r Report) String() string {
	var b strings.Builder
	for _, g := range r.Guilds {
		fmt.Fprintf(&b, "guild %s\n", g.GuildID)
		for _, c := range g.Checks {
			status := "PASS"
			if !c.Passed {
				status = "FAIL"
				if c.Severity == SeverityInfo {
					status = "NOTE"
				}
			}
			fmt.Fprintf(&b, "  [%s] %-4s %-24s %s\n", status, c.Severity, c.Name, c.Summary)
			if !c.Passed || c.Severity == SeverityInfo {
				for _, d := range c.Details {
					fmt.Fprintf(&b, "        %s\n", d)
				}
				if c.Count > len(c.Details) {
					fmt.Fprintf(&b, "        ... %d more\n", c.Count-len(c.Details))
				}
			}
		}
	}
	if r.Passed() {
		b.WriteString("audit passed\n")
	} else {
		b.WriteString("audit FAILED\n")
	}
	return b.String()
}
