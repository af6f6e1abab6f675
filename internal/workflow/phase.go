package workflow

import (
	"time"

	"github.com/claimbot/claimbot/internal/domain/authorization"
	"github.com/claimbot/claimbot/internal/domain/claim"
	"github.com/claimbot/claimbot/internal/domain/search"
)

// Phase is one step of the per-invoice state machine.
type Phase string

const (
	PhaseInit        Phase = "init"
	PhaseDocCheck    Phase = "doc_check"
	PhaseScrape      Phase = "scrape"
	PhaseClassify    Phase = "classify"
	PhasePayerSearch Phase = "payer_search"
	PhaseAuthDecide  Phase = "auth_decide"
	PhaseClaimFill   Phase = "claim_fill"
	PhaseSubmit      Phase = "submit"
	PhaseAttach      Phase = "attach"
	PhaseDone        Phase = "done"
)

// Exit is the terminal state an invoice reached.
type Exit string

const (
	ExitDoneOK        Exit = "done_ok"
	ExitDoneSkip      Exit = "done_skip"
	ExitAbortNoMember Exit = "abort_no_member"
	ExitAbortNoAuth   Exit = "abort_no_auth"
	ExitAbortSubmit   Exit = "abort_submit"
	ExitAbortError    Exit = "abort_error"
)

// Done reports whether the invoice can leave the work-list.
func (e Exit) Done() bool {
	return e == ExitDoneOK || e == ExitDoneSkip
}

// Result describes one invoice run. It is returned on every path.
type Result struct {
	Invoice             string
	Exit                Exit
	Services            claim.ServiceSet
	Candidate           search.Candidate
	Decision            authorization.Decision
	AuthorizationNumber string
	Artifact            string
	// AttachErr is set when the claim was submitted but the confirmation
	// could not be attached in the EHR.
	AttachErr error
	Duration  time.Duration
}
