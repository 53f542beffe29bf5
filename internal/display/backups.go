package display

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"acore-backup/internal/backup"
	"acore-backup/internal/restore"
	"acore-backup/internal/schedule"
)

const timeLayout = "2006-01-02 15:04:05 MST"

// BackupSets lists sets newest first
func (p *Printer) BackupSets(sets []backup.BackupSet) error {
	return p.Print(sets, func() {
		if len(sets) == 0 {
			p.Info("No backup sets found")
			return
		}
		rows := make([][]string, 0, len(sets))
		for _, s := range sets {
			rows = append(rows, []string{
				s.ID,
				s.CreatedAt.Format(timeLayout),
				s.Label,
				strings.Join(s.Databases, ", "),
				FormatBytes(s.TotalSize),
			})
		}
		p.Table([]string{"SET", "CREATED", "TYPE", "DATABASES", "SIZE"}, rows)
	})
}

// BackupSet shows one set with its files
func (p *Printer) BackupSet(set backup.BackupSet) error {
	return p.Print(set, func() {
		p.Header("Backup set " + set.ID)
		p.KeyValues([][2]string{
			{"Created", set.CreatedAt.Format(timeLayout)},
			{"Type", set.Label},
			{"Total size", FormatBytes(set.TotalSize)},
		})
		rows := make([][]string, 0, len(set.Files))
		for _, f := range set.Files {
			rows = append(rows, []string{f.Database, f.Filename, FormatBytes(f.SizeBytes)})
		}
		p.Table([]string{"DATABASE", "FILE", "SIZE"}, rows)
	})
}

// RunResult reports a backup run
func (p *Printer) RunResult(run backup.RunResult) error {
	return p.Print(run, func() {
		for _, r := range run.Results {
			switch {
			case r.Success:
				p.Success("%s: %s (%s, %d tables)", r.Database, r.Filename, FormatBytes(r.SizeBytes), r.Tables)
			case r.Skipped:
				p.Warning("%s: skipped (%s)", r.Database, r.Error)
			default:
				p.Error("%s: %s", r.Database, r.Error)
			}
		}
		if run.SetID != "" {
			p.Info("Backup set: %s", run.SetID)
		}
	})
}

// SetReport shows a validation report
func (p *Printer) SetReport(report backup.SetReport) error {
	return p.Print(report, func() {
		rows := make([][]string, 0, len(report.Files))
		for _, f := range report.Files {
			status := p.Colorize("valid", p.theme.Success)
			if !f.Valid {
				status = p.Colorize("INVALID", p.theme.Error)
			}
			rows = append(rows, []string{
				f.Database,
				status,
				strconv.Itoa(f.StatementCount),
				strconv.Itoa(f.TableCount),
				FormatBytes(f.SizeBytes),
			})
		}
		p.Table([]string{"DATABASE", "STATUS", "STATEMENTS", "TABLES", "SIZE"}, rows)
		for _, f := range report.Files {
			for _, e := range f.Errors {
				p.Error("%s: %s", f.Filename, e)
			}
		}
		if report.Valid {
			p.Success("Backup set %s is valid", report.SetID)
		} else {
			p.Error("Backup set %s failed validation", report.SetID)
		}
	})
}

// RestoreOperation shows the step list and, once finished, the result
func (p *Printer) RestoreOperation(op restore.Operation) error {
	return p.Print(op, func() {
		p.Header(fmt.Sprintf("Restore %s (%s)", op.SetID, op.Status))
		rows := make([][]string, 0, len(op.Steps))
		for _, s := range op.Steps {
			rows = append(rows, []string{s.ID, p.stepStatus(s.Status), s.Error})
		}
		p.Table([]string{"STEP", "STATUS", "ERROR"}, rows)

		if op.Result == nil {
			return
		}
		r := op.Result
		pairs := [][2]string{
			{"Files restored", strconv.Itoa(r.FilesRestored)},
			{"Tables", strconv.Itoa(r.TotalTablesRestored)},
			{"Statements", strconv.Itoa(r.TotalStatementsExecuted)},
			{"Duration", (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Second).String()},
		}
		if r.PreRestoreSetID != "" {
			pairs = append(pairs, [2]string{"Pre-restore set", r.PreRestoreSetID})
		}
		p.KeyValues(pairs)
		for _, w := range r.Warnings {
			p.Warning("%s", w)
		}
		for _, e := range r.Errors {
			p.Error("%s: %s", e.Database, e.Error)
		}
	})
}

func (p *Printer) stepStatus(s restore.StepStatus) string {
	switch s {
	case restore.StepDone:
		return p.Colorize(string(s), p.theme.Success)
	case restore.StepFailed:
		return p.Colorize(string(s), p.theme.Error)
	case restore.StepInProgress:
		return p.Colorize(string(s), p.theme.Info)
	case restore.StepSkipped:
		return p.Colorize(string(s), p.theme.Warning)
	default:
		return string(s)
	}
}

// ScheduleView is the schedule plus its next run
type ScheduleView struct {
	schedule.Config `yaml:",inline"`
	NextRun         *time.Time `json:"nextRun,omitempty" yaml:"next_run,omitempty"`
}

// Schedule shows the backup schedule
func (p *Printer) Schedule(cfg schedule.Config, next time.Time) error {
	view := ScheduleView{Config: cfg}
	if !next.IsZero() {
		view.NextRun = &next
	}
	return p.Print(view, func() {
		enabled := p.Colorize("disabled", p.theme.Warning)
		if cfg.Enabled {
			enabled = p.Colorize("enabled", p.theme.Success)
		}
		pairs := [][2]string{
			{"Status", enabled},
			{"Cron", cfg.Cron + " (UTC)"},
			{"Databases", strings.Join(cfg.Databases, ", ")},
			{"Retention", fmt.Sprintf("%d day(s)", cfg.RetentionDays)},
		}
		if view.NextRun != nil {
			pairs = append(pairs, [2]string{"Next run", next.Format(timeLayout)})
		}
		p.KeyValues(pairs)
	})
}
