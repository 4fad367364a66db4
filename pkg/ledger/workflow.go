package ledger

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"tenant-ledger/pkg/events"
	"tenant-ledger/pkg/logging"
	"tenant-ledger/pkg/money"

	"go.uber.org/zap"
)

// CreateTransactionRequest describes a new draft transaction.
// Amounts are decimal strings in major units of Currency.
type CreateTransactionRequest struct {
	Kind                 Kind           `json:"kind"`
	Amount               string         `json:"amount"`
	Currency             string         `json:"currency"`
	AccountID            string         `json:"account_id,omitempty"`
	SourceAccountID      string         `json:"source_account_id,omitempty"`
	DestinationAccountID string         `json:"destination_account_id,omitempty"`
	Fee                  string         `json:"fee,omitempty"`
	Classification       Classification `json:"classification"`
	Description          string         `json:"description"`
	Reference            string         `json:"reference,omitempty"`

	// RequiresApproval overrides the tenant policy when set.
	RequiresApproval *bool `json:"requires_approval,omitempty"`

	Actor string `json:"-"`
}

// CreateTransaction stores a new transaction in draft.
// Input shape is checked here; required fields and references are checked
// again when the transaction leaves draft.
func (l *Ledger) CreateTransaction(ctx context.Context, tenant string, req CreateTransactionRequest) (*Transaction, error) {
	t, err := l.tenant(ctx, tenant)
	if err != nil {
		return nil, err
	}
	if !req.Kind.Valid() {
		return nil, invalid("kind", fmt.Errorf("unknown kind %q", req.Kind))
	}
	cur, err := money.LookupCurrency(req.Currency)
	if err != nil {
		return nil, invalid("currency", err)
	}

	tx := NewTransaction()
	tx.Kind = req.Kind
	tx.AccountID = req.AccountID
	tx.SourceAccountID = req.SourceAccountID
	tx.DestinationAccountID = req.DestinationAccountID
	tx.Description = strings.TrimSpace(req.Description)
	tx.Reference = req.Reference
	tx.Classification = req.Classification.clone()
	tx.Amount = money.Zero(cur.Code)
	if strings.TrimSpace(req.Amount) != "" {
		if tx.Amount, err = money.Parse(req.Amount, cur.Code); err != nil {
			return nil, invalid("amount", err)
		}
		if !tx.Amount.IsPositive() {
			return nil, invalid("amount", fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, tx.Amount))
		}
	}
	if strings.TrimSpace(req.Fee) != "" {
		if tx.Fee, err = money.Parse(req.Fee, cur.Code); err != nil {
			return nil, invalid("fee", err)
		}
	}
	if tx.Kind == KindTransfer && tx.SourceAccountID != "" && tx.SourceAccountID == tx.DestinationAccountID {
		return nil, fmt.Errorf("%w: source and destination are both %s", ErrInvalidTransfer, tx.SourceAccountID)
	}

	tx.RequiresApproval = t.RequireApproval
	if req.RequiresApproval != nil {
		tx.RequiresApproval = *req.RequiresApproval
	}

	seq, err := l.repo.NextSequence(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("next sequence: %w", err)
	}
	now := l.now()
	tx.ID = l.newID()
	tx.Tenant = tenant
	tx.Sequence = seq
	tx.CreatedBy = req.Actor
	tx.CreatedAt = now
	tx.UpdatedAt = now

	if err := l.repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}

	l.logger.Info("transaction created",
		logging.Tenant(tenant),
		logging.TransactionID(tx.ID),
		zap.String("kind", string(tx.Kind)),
		zap.Stringer("amount", tx.Amount),
		zap.String("currency", tx.Currency()),
		zap.Bool("requires_approval", tx.RequiresApproval),
	)
	l.publish(ctx, events.Event{
		Type:          events.TypeCreated,
		Tenant:        tenant,
		TransactionID: tx.ID,
		To:            StateDraft.String(),
		Actor:         req.Actor,
		At:            now,
	})
	return tx, nil
}

// GetTransaction returns the transaction or ErrNotFound.
func (l *Ledger) GetTransaction(ctx context.Context, tenant, id string) (*Transaction, error) {
	return l.repo.GetTransaction(ctx, tenant, id)
}

// ListTransactions returns the tenant's transactions matching filter, ordered by sequence.
func (l *Ledger) ListTransactions(ctx context.Context, tenant string, filter TransactionFilter) ([]*Transaction, error) {
	return l.repo.ListTransactions(ctx, tenant, filter)
}

// SubmitForApproval moves a draft that requires approval to pending_approval.
func (l *Ledger) SubmitForApproval(ctx context.Context, tenant, id, actor string) (*Transaction, error) {
	return l.transition(ctx, tenant, id, StatePendingApproval, actor, "", func(tx *Transaction) error {
		if !tx.RequiresApproval {
			return fmt.Errorf("%w: %s does not require approval, post it directly", ErrInvalidStateTransition, tx.ID)
		}
		return l.validate(ctx, tx)
	})
}

// Approve records the approving actor. Authorization happens before the call.
func (l *Ledger) Approve(ctx context.Context, tenant, id, actor string) (*Transaction, error) {
	if strings.TrimSpace(actor) == "" {
		return nil, invalid("actor", ErrMissingField)
	}
	return l.transition(ctx, tenant, id, StateApproved, actor, "", func(tx *Transaction) error {
		tx.ApprovedBy = actor
		tx.ApprovedAt = l.now()
		return nil
	})
}

// Reject ends a pending or approved transaction with a reason. No balance is touched.
func (l *Ledger) Reject(ctx context.Context, tenant, id, actor, reason string) (*Transaction, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, invalid("reason", ErrMissingField)
	}
	return l.transition(ctx, tenant, id, StateRejected, actor, reason, func(tx *Transaction) error {
		tx.RejectedBy = actor
		tx.RejectionReason = reason
		return nil
	})
}

// transition applies a transition without balance effect.
// guard runs on a copy before the edge is taken and may fill in fields.
func (l *Ledger) transition(ctx context.Context, tenant, id string, to State, actor, reason string, guard func(*Transaction) error) (*Transaction, error) {
	start := time.Now()
	var from State
	tx, err := l.mutate(ctx, tenant, id, func(tx *Transaction) error {
		from = tx.State()
		if !from.CanTransition(to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStateTransition, from, to)
		}
		if err := guard(tx); err != nil {
			return err
		}
		return tx.transition(to, actor, reason, l.now())
	})
	l.recordTransition(ctx, tenant, id, from, to, actor, reason, start, err)
	return tx, err
}

func (l *Ledger) recordTransition(ctx context.Context, tenant, id string, from, to State, actor, reason string, start time.Time, err error) {
	duration := time.Since(start)
	fromName := from.String()
	if !from.Valid() {
		fromName = "unknown"
	}
	l.metrics.RecordTransition(fromName, to.String(), outcome(err), duration)

	fields := append([]zap.Field{
		logging.Tenant(tenant),
		logging.TransactionID(id),
		logging.Actor(actor),
		zap.Duration("duration", duration),
	}, logging.Transition(fromName, to.String())...)

	if err != nil {
		l.logger.Info("transition refused", append(fields, zap.String("category", string(Classify(err))), zap.Error(err))...)
		return
	}
	l.logger.Info("transition applied", fields...)
	l.publish(ctx, events.Event{
		Type:          events.TypeTransition,
		Tenant:        tenant,
		TransactionID: id,
		From:          fromName,
		To:            to.String(),
		Actor:         actor,
		Reason:        reason,
	})
}

// mutate loads the transaction under its lock, lets fn edit a copy and
// writes the copy back with the loaded revision. Store conflicts are retried.
func (l *Ledger) mutate(ctx context.Context, tenant, id string, fn func(*Transaction) error) (*Transaction, error) {
	unlock := l.locks.lock(transactionKey(tenant, id))
	defer unlock()

	var out *Transaction
	err := l.retry("transaction", func() error {
		current, err := l.repo.GetTransaction(ctx, tenant, id)
		if err != nil {
			return err
		}
		next := current.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.UpdatedAt = l.now()
		if err := l.repo.UpdateTransaction(ctx, next, current.Revision); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// TransactionPatch edits a transaction. Nil fields are left alone.
// Financial fields can only change in draft; descriptive fields can change
// until the transaction is voided or rejected.
type TransactionPatch struct {
	Amount               *string         `json:"amount,omitempty"`
	Currency             *string         `json:"currency,omitempty"`
	AccountID            *string         `json:"account_id,omitempty"`
	SourceAccountID      *string         `json:"source_account_id,omitempty"`
	DestinationAccountID *string         `json:"destination_account_id,omitempty"`
	Fee                  *string         `json:"fee,omitempty"`
	Description          *string         `json:"description,omitempty"`
	Reference            *string         `json:"reference,omitempty"`
	Classification       *Classification `json:"classification,omitempty"`
}

func (p TransactionPatch) financial() bool {
	return p.Amount != nil || p.Currency != nil || p.AccountID != nil ||
		p.SourceAccountID != nil || p.DestinationAccountID != nil || p.Fee != nil
}

// UpdateDetails applies patch to the transaction.
func (l *Ledger) UpdateDetails(ctx context.Context, tenant, id string, patch TransactionPatch, actor string) (*Transaction, error) {
	tx, err := l.mutate(ctx, tenant, id, func(tx *Transaction) error {
		state := tx.State()
		if state.Terminal() {
			return fmt.Errorf("%w: %s is %s", ErrInvalidStateTransition, tx.ID, state)
		}
		if patch.financial() && state != StateDraft {
			return fmt.Errorf("%w: amount, currency and accounts are frozen once %s leaves draft (now %s)",
				ErrInvalidStateTransition, tx.ID, state)
		}
		if err := applyFinancial(tx, patch); err != nil {
			return err
		}
		if patch.Description != nil {
			if strings.TrimSpace(*patch.Description) == "" && state != StateDraft {
				return invalid("description", ErrMissingField)
			}
			tx.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Reference != nil {
			tx.Reference = *patch.Reference
		}
		if patch.Classification != nil {
			c := patch.Classification.clone()
			if l.classifier != nil && state != StateDraft {
				stamped, err := l.classifier.Classify(ctx, tenant, c)
				if err != nil {
					return err
				}
				c = stamped
			}
			tx.Classification = c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.logger.Info("transaction updated",
		logging.Tenant(tenant),
		logging.TransactionID(id),
		logging.Actor(actor),
		logging.State(tx.State().String()),
	)
	l.publish(ctx, events.Event{Type: events.TypeUpdated, Tenant: tenant, TransactionID: id, Actor: actor})
	return tx, nil
}

func applyFinancial(tx *Transaction, patch TransactionPatch) error {
	currency := tx.Currency()
	if patch.Currency != nil {
		cur, err := money.LookupCurrency(*patch.Currency)
		if err != nil {
			return invalid("currency", err)
		}
		currency = cur.Code
	}

	amount := tx.Amount.String()
	if patch.Amount != nil {
		amount = *patch.Amount
	}
	if patch.Amount != nil || patch.Currency != nil {
		parsed, err := money.Parse(amount, currency)
		if err != nil {
			return invalid("amount", err)
		}
		if !parsed.IsPositive() && patch.Amount != nil {
			return invalid("amount", fmt.Errorf("%w: must be positive, got %s", ErrInvalidAmount, parsed))
		}
		tx.Amount = parsed
	}

	fee := ""
	if tx.HasFee() {
		fee = tx.Fee.String()
	}
	if patch.Fee != nil {
		fee = *patch.Fee
	}
	if patch.Fee != nil || (patch.Currency != nil && fee != "") {
		if strings.TrimSpace(fee) == "" {
			tx.Fee = money.Amount{}
		} else {
			parsed, err := money.Parse(fee, currency)
			if err != nil {
				return invalid("fee", err)
			}
			tx.Fee = parsed
		}
	}

	if patch.AccountID != nil {
		tx.AccountID = *patch.AccountID
	}
	if patch.SourceAccountID != nil {
		tx.SourceAccountID = *patch.SourceAccountID
	}
	if patch.DestinationAccountID != nil {
		tx.DestinationAccountID = *patch.DestinationAccountID
	}
	return nil
}

// Delete removes a draft or rejected transaction. Neither ever touched a balance.
func (l *Ledger) Delete(ctx context.Context, tenant, id, actor string) error {
	unlock := l.locks.lock(transactionKey(tenant, id))
	defer unlock()

	err := l.retry("transaction", func() error {
		current, err := l.repo.GetTransaction(ctx, tenant, id)
		if err != nil {
			return err
		}
		if !current.State().Deletable() {
			return fmt.Errorf("%w: cannot delete %s transaction %s", ErrInvalidStateTransition, current.State(), id)
		}
		return l.repo.DeleteTransaction(ctx, tenant, id, current.Revision)
	})
	if err != nil {
		return err
	}

	l.logger.Info("transaction deleted", logging.Tenant(tenant), logging.TransactionID(id), logging.Actor(actor))
	l.publish(ctx, events.Event{Type: events.TypeDeleted, Tenant: tenant, TransactionID: id, Actor: actor})
	return nil
}

// AttachmentRef describes a stored document to link to a transaction.
type AttachmentRef struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	URL  string `json:"url"`
}

// Attach links a document to the transaction in any state, including void.
// The new attachment gets an id that stays with this transaction.
func (l *Ledger) Attach(ctx context.Context, tenant, id string, ref AttachmentRef, actor string) (Attachment, error) {
	if strings.TrimSpace(ref.Name) == "" {
		return Attachment{}, invalid("name", ErrMissingField)
	}
	if strings.TrimSpace(ref.URL) == "" {
		return Attachment{}, invalid("url", ErrMissingField)
	}
	if ref.Size < 0 {
		return Attachment{}, invalid("size", fmt.Errorf("must not be negative, got %d", ref.Size))
	}

	att := Attachment{
		ID:      l.newID(),
		Name:    ref.Name,
		Size:    ref.Size,
		URL:     ref.URL,
		AddedBy: actor,
		AddedAt: l.now(),
	}
	_, err := l.mutate(ctx, tenant, id, func(tx *Transaction) error {
		tx.Attachments = append(tx.Attachments, att)
		return nil
	})
	if err != nil {
		return Attachment{}, err
	}
	l.logger.Info("attachment added",
		logging.Tenant(tenant),
		logging.TransactionID(id),
		zap.String("attachment_id", att.ID),
	)
	return att, nil
}

// Detach unlinks an attachment. Voided and rejected transactions keep theirs.
func (l *Ledger) Detach(ctx context.Context, tenant, id, attachmentID, actor string) error {
	_, err := l.mutate(ctx, tenant, id, func(tx *Transaction) error {
		if tx.State().Terminal() {
			return fmt.Errorf("%w: attachments of %s transaction %s are retained", ErrInvalidStateTransition, tx.State(), tx.ID)
		}
		i := slices.IndexFunc(tx.Attachments, func(a Attachment) bool { return a.ID == attachmentID })
		if i < 0 {
			return fmt.Errorf("%w: attachment %s on %s", ErrNotFound, attachmentID, tx.ID)
		}
		tx.Attachments = slices.Delete(tx.Attachments, i, i+1)
		return nil
	})
	if err != nil {
		return err
	}
	l.logger.Info("attachment removed",
		logging.Tenant(tenant),
		logging.TransactionID(id),
		logging.Actor(actor),
		zap.String("attachment_id", attachmentID),
	)
	return nil
}

// validate runs the checks required before a transaction leaves draft:
// required fields, then classification references.
func (l *Ledger) validate(ctx context.Context, tx *Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	if l.classifier == nil {
		return nil
	}
	stamped, err := l.classifier.Classify(ctx, tx.Tenant, tx.Classification)
	if err != nil {
		return err
	}
	tx.Classification = stamped
	return nil
}
