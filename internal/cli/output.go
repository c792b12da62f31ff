package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/mcoot/sideline/internal/api/response"
	"github.com/mcoot/sideline/internal/model"
	"github.com/mcoot/sideline/internal/services/datastore"
	"github.com/mcoot/sideline/internal/storage"
	"github.com/mcoot/sideline/internal/syncer"
)

// Output handles formatting output based on the configured format
type Output struct {
	format string
	out    io.Writer
	errOut io.Writer
}

// NewOutput creates a new Output formatter
func NewOutput(format string, out, errOut io.Writer) *Output {
	return &Output{format: format, out: out, errOut: errOut}
}

// HealthResult response type
type HealthResult struct {
	Status string `json:"status"`
}

// Print outputs data in the configured format
func (o *Output) Print(data any) {
	if o.format == "json" {
		o.printJSON(data)
	} else {
		o.printText(data)
	}
}

// PrintError outputs an error
func (o *Output) PrintError(err error) {
	if o.format == "json" {
		errData := map[string]any{
			"error": map[string]string{
				"message": err.Error(),
			},
		}
		data, _ := json.Marshal(errData)
		fmt.Fprintln(o.errOut, string(data))
	} else {
		fmt.Fprintf(o.errOut, "Error: %s\n", err)
	}
}

// PrintMessage outputs a simple message
func (o *Output) PrintMessage(msg string) {
	if o.format == "json" {
		data, _ := json.Marshal(map[string]string{"message": msg})
		fmt.Fprintln(o.out, string(data))
	} else {
		fmt.Fprintln(o.out, msg)
	}
}

func (o *Output) printJSON(data any) {
	enc := json.NewEncoder(o.out)
	enc.SetIndent("", "  ")
	_ = enc.Encode(data)
}

func (o *Output) printText(data any) {
	switch v := data.(type) {
	case response.List[model.Player]:
		o.printPlayers(v)
	case response.Saved[model.Player]:
		o.printPlayer(v.Data)
		o.printOutcome(v.Outcome.Kind)
	case response.Deleted:
		fmt.Fprintf(o.out, "Deleted: %s\n", v.ID)
		o.printOutcome(v.Outcome.Kind)
	case datastore.Status:
		o.printStatus(v)
	case syncer.Result:
		o.printSyncResult(v)
	case response.Auth:
		o.printAuth(v)
	case response.Connectivity:
		o.printConnectivity(v)
	case response.List[model.DeadLetter]:
		o.printDeadLetters(v)
	case model.PendingWrite:
		fmt.Fprintf(o.out, "Requeued: %s (%s/%s)\n", v.EntryID, v.Collection, v.EntityID)
	case response.Transaction:
		o.printTransaction(v)
	case HealthResult:
		fmt.Fprintf(o.out, "Status: %s\n", v.Status)
	default:
		// Fallback to JSON for unknown types
		o.printJSON(data)
	}
}

func (o *Output) printPlayer(p model.Player) {
	fmt.Fprintf(o.out, "Player: %s (%s)\n", p.Name, p.ID)
	if p.Nickname != "" {
		fmt.Fprintf(o.out, "Nickname: %s\n", p.Nickname)
	}
	if p.JerseyNumber != "" {
		fmt.Fprintf(o.out, "Jersey: #%s\n", p.JerseyNumber)
	}
	if p.IsGoalie {
		fmt.Fprintln(o.out, "Goalie: yes")
	}
}

func (o *Output) printPlayers(l response.List[model.Player]) {
	fmt.Fprintf(o.out, "Players (%d):\n", l.Count)
	for _, p := range l.Items {
		extra := ""
		if p.JerseyNumber != "" {
			extra += " #" + p.JerseyNumber
		}
		if p.IsGoalie {
			extra += " [goalie]"
		}
		fmt.Fprintf(o.out, "  - %s (%s)%s\n", p.Name, p.ID, extra)
	}
}

func (o *Output) printOutcome(kind storage.OutcomeKind) {
	fmt.Fprintf(o.out, "Outcome: %s\n", kind)
}

func (o *Output) printStatus(s datastore.Status) {
	identity := "anonymous"
	if s.Authenticated {
		identity = s.UserID
	}
	fmt.Fprintf(o.out, "Provider: %s\n", s.Provider)
	fmt.Fprintf(o.out, "Identity: %s\n", identity)
	fmt.Fprintf(o.out, "Online: %s\n", yesNo(s.Online))
	fmt.Fprintf(o.out, "Queue Depth: %d\n", s.QueueDepth)
	fmt.Fprintf(o.out, "Dead Letters: %d\n", s.DeadLetters)
	if s.LastSyncAt != nil {
		fmt.Fprintf(o.out, "Last Sync: %s\n", s.LastSyncAt.Format(time.RFC3339))
	}
	if s.Draining {
		fmt.Fprintln(o.out, "Draining: yes")
	}
	if s.Breaker != "" {
		fmt.Fprintf(o.out, "Breaker: %s\n", s.Breaker)
	}
}

func (o *Output) printSyncResult(r syncer.Result) {
	fmt.Fprintf(o.out, "Succeeded: %d\n", len(r.Succeeded))
	fmt.Fprintf(o.out, "Failed: %d\n", len(r.Failed))
	fmt.Fprintf(o.out, "Dead Lettered: %d\n", len(r.DeadLettered))
	fmt.Fprintf(o.out, "Discarded: %d\n", len(r.Discarded))
	if len(r.Deferred) > 0 {
		fmt.Fprintf(o.out, "Deferred: %d (other accounts)\n", len(r.Deferred))
	}
	fmt.Fprintf(o.out, "Remaining: %d\n", r.Remaining)
	if r.Halted != "" {
		fmt.Fprintf(o.out, "Halted: %s\n", r.Halted)
	}
}

func (o *Output) printAuth(a response.Auth) {
	if a.IsAuthenticated {
		fmt.Fprintf(o.out, "Signed in as: %s\n", a.UserID)
	} else {
		fmt.Fprintln(o.out, "Signed out")
	}
	fmt.Fprintf(o.out, "Provider: %s\n", a.Provider)
}

func (o *Output) printConnectivity(c response.Connectivity) {
	if c.Online {
		fmt.Fprintln(o.out, "Online")
	} else {
		fmt.Fprintln(o.out, "Offline")
	}
}

func (o *Output) printDeadLetters(l response.List[model.DeadLetter]) {
	fmt.Fprintf(o.out, "Dead Letters (%d):\n", l.Count)
	for _, d := range l.Items {
		fmt.Fprintf(o.out, "  - %s %s %s/%s: %s\n",
			d.Entry.EntryID, d.Entry.Operation, d.Entry.Collection, d.Entry.EntityID, d.Reason)
	}
}

func (o *Output) printTransaction(t response.Transaction) {
	fmt.Fprintf(o.out, "Transaction: %s\n", t.TransactionID)
	fmt.Fprintf(o.out, "Status: %s\n", t.Status)
	if len(t.CompletedOperations) > 0 {
		fmt.Fprintf(o.out, "Completed: %s\n", strings.Join(t.CompletedOperations, ", "))
	}
	if len(t.RolledBackOperations) > 0 {
		fmt.Fprintf(o.out, "Rolled Back: %s\n", strings.Join(t.RolledBackOperations, ", "))
	}
	if t.Error != "" {
		fmt.Fprintf(o.out, "Error: %s\n", t.Error)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
