package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"crvs/internal/workflow/models"
	id "crvs/pkg/domain"
	dErrors "crvs/pkg/domain-errors"
	audit "crvs/pkg/platform/audit"
)

type ShowOptions struct {
	*RootOptions
	Audit bool
}

// RecordView is what show prints: the bundle plus derived lifecycle fields.
type RecordView struct {
	Record            *models.Record `json:"record"`
	Status            models.State   `json:"status"`
	Version           int64          `json:"version"`
	PendingCorrection bool           `json:"pendingCorrection"`
	Audit             []audit.Event  `json:"audit,omitempty"`
}

func (v RecordView) String() string {
	var b strings.Builder
	r := v.Record
	fmt.Fprintf(&b, "record   %s (%s)\n", r.ID, r.EventType)
	fmt.Fprintf(&b, "status   %s  version %d", v.Status, v.Version)
	if v.PendingCorrection {
		b.WriteString("  [correction pending]")
	}
	b.WriteString("\n")
	for _, p := range r.Participants {
		fmt.Fprintf(&b, "party    %-9s %s %s\n", p.Role, p.GivenName, p.FamilyName)
	}
	b.WriteString("entries\n")
	for _, e := range r.Entries {
		fmt.Fprintf(&b, "  %3d  %-22s %-11s %-20s %s", e.Seq, e.Status, e.EntryStatus, e.Action, e.Timestamp.Format(time.RFC3339))
		if e.Reason != "" {
			fmt.Fprintf(&b, "  %q", e.Reason)
		}
		b.WriteString("\n")
	}
	if len(v.Audit) > 0 {
		b.WriteString("audit\n")
		for _, ev := range v.Audit {
			fmt.Fprintf(&b, "  %3d  %-28s %s -> %s  by %s\n", ev.Seq, ev.Type, ev.FromStatus, ev.ToStatus, ev.ActorID)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "show <record-id>",
		Short: "Print a record bundle",
		Long: `Print a record with its participants and full lifecycle history,
historical entries included.

Examples:
  workflowctl show 4f7c0a0e-6d1c-4a55-9a53-2b1f3c0d9e11
  workflowctl show 4f7c0a0e-6d1c-4a55-9a53-2b1f3c0d9e11 --audit --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShow(opts, cmd, args[0])
		},
	}
	cmd.Flags().BoolVar(&opts.Audit, "audit", false, "include the audit trail")
	return cmd
}

func runShow(opts *ShowOptions, cmd *cobra.Command, rawID string) error {
	recordID, err := id.ParseRecordID(rawID)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid record id", err)
	}
	b, err := opts.backends(cmd)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx := cmd.Context()
	rec, err := b.Records.Get(ctx, recordID)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeNotFound) {
			return WrapExitError(ExitFailure, "record not found", err)
		}
		return WrapExitError(ExitCommandError, "failed to load record", err)
	}
	view := RecordView{
		Record:            rec,
		Status:            rec.Status(),
		Version:           rec.Version(),
		PendingCorrection: rec.HasPendingCorrection(),
	}
	if opts.Audit {
		events, err := b.Records.AuditTrail(ctx, recordID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load audit trail", err)
		}
		view.Audit = events
	}
	return opts.formatter(cmd).Success(view)
}
