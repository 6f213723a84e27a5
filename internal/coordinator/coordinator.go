package coordinator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"syscall"

	"recipebox/internal/storage"
	"recipebox/internal/store"
	"recipebox/internal/upload"
)

// LevelCritical is used for committed data/file mismatches. It sits above
// slog.LevelError.
const LevelCritical = slog.LevelError + 4

// State is a step of a commit attempt.
type State int

const (
	StateIdle State = iota
	StateTxnOpen
	StateValidating
	StateStaged
	StateCommitting
	StateCommitted
	StateRollingBack
	StateRolledBack
)

var stateNames = [...]string{
	StateIdle:        "Idle",
	StateTxnOpen:     "TxnOpen",
	StateValidating:  "Validating",
	StateStaged:      "Staged",
	StateCommitting:  "Committing",
	StateCommitted:   "Committed",
	StateRollingBack: "RollingBack",
	StateRolledBack:  "RolledBack",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Mutation applies relational changes inside the attempt's transaction.
type Mutation func(ctx context.Context, tx *sql.Tx) error

// FileCommit describes a relational change paired with an optional upload.
// TempPath must be unique to this attempt.
type FileCommit struct {
	Mutation  Mutation
	Upload    *upload.Candidate
	TempPath  string
	FinalPath string
	Overwrite bool
}

// Coordinator commits a relational transaction together with a file on a
// FileStore. The relational work runs first; the file only becomes visible
// once the transaction has committed.
type Coordinator struct {
	db         store.TxBeginner
	files      *storage.StagedWriter
	validator  *upload.Validator
	classifier *store.Classifier
}

// New returns a Coordinator.
func New(db store.TxBeginner, files *storage.StagedWriter, validator *upload.Validator, classifier *store.Classifier) *Coordinator {
	return &Coordinator{
		db:         db,
		files:      files,
		validator:  validator,
		classifier: classifier,
	}
}

// attempt carries the state of a single commit.
type attempt struct {
	c        *Coordinator
	op       string
	state    State
	tx       *sql.Tx
	staged   *storage.StagedFile
	fileName string
}

func (a *attempt) transition(to State) {
	slog.Debug("Commit transition", "op", a.op, "from", a.state, "to", to)
	a.state = to
}

// CommitWithFile applies req.Mutation and, when req.Upload is set, validates
// and stores the upload at req.FinalPath. Either both take effect or, short
// of a failure after the commit (KindInconsistent), neither does.
func (c *Coordinator) CommitWithFile(ctx context.Context, req FileCommit) Outcome {
	a := &attempt{c: c, op: "commit_with_file"}
	if req.Upload != nil {
		a.fileName = html.EscapeString(req.Upload.FileName)
	}

	if err := a.begin(ctx); err != nil {
		return a.fail(ctx, err)
	}

	if err := a.mutate(ctx, req.Mutation); err != nil {
		return a.fail(ctx, err)
	}

	if req.Upload != nil {
		if err := a.stage(ctx, req); err != nil {
			return a.fail(ctx, err)
		}
	}

	if err := a.commit(ctx); err != nil {
		return a.fail(ctx, err)
	}

	// The transaction is durable; finish the file side even if the caller
	// has gone away.
	if a.staged != nil {
		if err := c.files.Promote(context.WithoutCancel(ctx), a.staged); err != nil {
			return a.inconsistent(ctx, err, req.FinalPath)
		}
	}

	a.transition(StateCommitted)
	return Outcome{Kind: KindSuccess, State: a.state, FileName: a.fileName, Size: a.stagedSize()}
}

// CommitWithFileDeletion applies mutation and, once it has committed,
// deletes the file at finalPath. An empty finalPath deletes nothing.
func (c *Coordinator) CommitWithFileDeletion(ctx context.Context, mutation Mutation, finalPath string) Outcome {
	a := &attempt{c: c, op: "commit_with_file_deletion"}

	if err := a.begin(ctx); err != nil {
		return a.fail(ctx, err)
	}

	if err := a.mutate(ctx, mutation); err != nil {
		return a.fail(ctx, err)
	}

	if err := a.commit(ctx); err != nil {
		return a.fail(ctx, err)
	}

	if finalPath != "" {
		if err := c.files.Remove(context.WithoutCancel(ctx), finalPath); err != nil {
			return a.inconsistent(ctx, err, finalPath)
		}
	}

	a.transition(StateCommitted)
	return Outcome{Kind: KindSuccess, State: a.state}
}

func (a *attempt) begin(ctx context.Context) error {
	tx, err := a.c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	a.tx = tx
	a.transition(StateTxnOpen)
	return nil
}

func (a *attempt) mutate(ctx context.Context, mutation Mutation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mutation == nil {
		return nil
	}
	return mutation(ctx, a.tx)
}

func (a *attempt) stage(ctx context.Context, req FileCommit) error {
	a.transition(StateValidating)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.c.validator.Validate(*req.Upload); err != nil {
		return err
	}

	staged, err := a.c.files.Stage(ctx, req.Upload.Content, req.TempPath, req.FinalPath, req.Overwrite)
	if err != nil {
		return err
	}
	a.staged = staged
	a.transition(StateStaged)
	return nil
}

func (a *attempt) commit(ctx context.Context) error {
	a.transition(StateCommitting)

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := a.tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	a.tx = nil
	return nil
}

// fail rolls back, discards any staged file and classifies err. Cleanup is
// not cancellable.
func (a *attempt) fail(ctx context.Context, err error) Outcome {
	failedIn := a.state
	a.transition(StateRollingBack)

	cleanupCtx := context.WithoutCancel(ctx)
	if a.tx != nil {
		if rbErr := a.tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.Debug("Rollback failed", "op", a.op, "err", rbErr)
		}
		a.tx = nil
	}
	a.c.files.Discard(cleanupCtx, a.staged)

	a.transition(StateRolledBack)

	out := a.classify(ctx, err, failedIn)
	out.State = a.state
	a.log(ctx, out, failedIn)
	return out
}

// inconsistent handles a failure after the transaction committed. Nothing
// can be rolled back at this point.
func (a *attempt) inconsistent(ctx context.Context, err error, finalPath string) Outcome {
	a.transition(StateCommitted)

	tempPath := ""
	if a.staged != nil {
		tempPath = a.staged.TempPath
	}

	slog.Log(ctx, LevelCritical, "Committed transaction without its file",
		"op", a.op,
		"temp_path", tempPath,
		"final_path", finalPath,
		"file", a.fileName,
		"err", err,
	)

	a.c.files.Discard(context.WithoutCancel(ctx), a.staged)

	return Outcome{
		Kind:     KindInconsistent,
		State:    a.state,
		FileName: a.fileName,
		Size:     a.stagedSize(),
		Err:      err,
	}
}

func (a *attempt) classify(ctx context.Context, err error, failedIn State) Outcome {
	out := Outcome{FileName: a.fileName, Err: err}

	var verr *upload.ValidationError
	if errors.As(err, &verr) {
		out.FileName = verr.FileName
		out.Size = verr.Size
		out.LimitMB = verr.LimitMB
		switch {
		case errors.Is(err, upload.ErrEmpty):
			out.Kind = KindEmptyFile
		case errors.Is(err, upload.ErrTooLarge):
			out.Kind = KindExceededMaximumSize
		default:
			out.Kind = KindInvalidExtensionOrSignature
		}
		return out
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		out.Kind = KindCancelled
		return out
	}

	if identifier, ok := store.ConstraintIdentifier(err); ok {
		out.Kind = KindUniqueConstraintViolation
		if cause, mapped := a.c.classifier.Classify(identifier); mapped {
			out.Cause = cause
		} else {
			slog.Warn("Unmapped unique constraint", "op", a.op, "constraint", identifier)
		}
		return out
	}

	switch {
	case errors.Is(err, store.ErrConcurrencyConflict):
		out.Kind = KindConcurrencyConflict
	case errors.Is(err, store.ErrNotFound):
		out.Kind = KindNotFound
	case ctx.Err() != nil:
		// Drivers do not always hand back the context error when a query
		// is interrupted.
		out.Kind = KindCancelled
	case failedIn == StateValidating || failedIn == StateStaged:
		out.Kind = KindIoFailure
	default:
		out.Kind = KindInternal
	}
	return out
}

func (a *attempt) log(ctx context.Context, out Outcome, failedIn State) {
	attrs := []any{
		"op", a.op,
		"kind", out.Kind,
		"failed_in", failedIn,
		"err", out.Err,
	}
	if a.fileName != "" {
		attrs = append(attrs, "file", a.fileName)
	}

	switch out.Kind {
	case KindIoFailure:
		var errno syscall.Errno
		if errors.As(out.Err, &errno) {
			attrs = append(attrs, "errno", int(errno))
		}
		slog.ErrorContext(ctx, "Upload failed", attrs...)
	case KindInternal:
		slog.ErrorContext(ctx, "Commit failed", attrs...)
	case KindCancelled:
		slog.InfoContext(ctx, "Commit cancelled", attrs...)
	default:
		if out.Cause != "" {
			attrs = append(attrs, "cause", out.Cause)
		}
		slog.WarnContext(ctx, "Commit rejected", attrs...)
	}
}

func (a *attempt) stagedSize() int64 {
	if a.staged == nil {
		return 0
	}
	return a.staged.Size
}
