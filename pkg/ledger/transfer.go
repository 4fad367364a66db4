package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tenant-ledger/pkg/money"
)

// TransferProcessor moves money between two accounts of the same currency.
// It checks the two-account invariant before any state change and then
// delegates to the Ledger's posting procedure.
type TransferProcessor struct {
	ledger *Ledger
}

// NewTransferProcessor returns a processor using l.
func NewTransferProcessor(l *Ledger) *TransferProcessor {
	return &TransferProcessor{ledger: l}
}

// TransferRequest describes a transfer. Fee is charged to the source in the transfer currency.
type TransferRequest struct {
	SourceAccountID      string         `json:"source_account_id"`
	DestinationAccountID string         `json:"destination_account_id"`
	Amount               string         `json:"amount"`
	Currency             string         `json:"currency"`
	Fee                  string         `json:"fee,omitempty"`
	Description          string         `json:"description"`
	Reference            string         `json:"reference,omitempty"`
	Classification       Classification `json:"classification"`
	RequiresApproval     *bool          `json:"requires_approval,omitempty"`

	Actor string `json:"-"`
}

// Create validates the transfer and stores it as a draft.
func (p *TransferProcessor) Create(ctx context.Context, tenant string, req TransferRequest) (*Transaction, error) {
	if err := p.check(ctx, tenant, req.SourceAccountID, req.DestinationAccountID, req.Currency); err != nil {
		return nil, err
	}
	return p.ledger.CreateTransaction(ctx, tenant, CreateTransactionRequest{
		Kind:                 KindTransfer,
		Amount:               req.Amount,
		Currency:             req.Currency,
		SourceAccountID:      req.SourceAccountID,
		DestinationAccountID: req.DestinationAccountID,
		Fee:                  req.Fee,
		Classification:       req.Classification,
		Description:          req.Description,
		Reference:            req.Reference,
		RequiresApproval:     req.RequiresApproval,
		Actor:                req.Actor,
	})
}

// Transfer creates the transfer and posts it right away unless it requires
// approval, in which case it is submitted and returned pending.
// If posting fails, the draft is kept and returned with the error.
func (p *TransferProcessor) Transfer(ctx context.Context, tenant string, req TransferRequest) (*Transaction, error) {
	tx, err := p.Create(ctx, tenant, req)
	if err != nil {
		return nil, err
	}
	if tx.RequiresApproval {
		return p.ledger.SubmitForApproval(ctx, tenant, tx.ID, req.Actor)
	}
	posted, err := p.ledger.Post(ctx, tenant, tx.ID, req.Actor)
	if err != nil {
		return tx, err
	}
	return posted, nil
}

// Post re-checks the transfer invariant against the current accounts and posts.
func (p *TransferProcessor) Post(ctx context.Context, tenant, id, actor string) (*Transaction, error) {
	tx, err := p.ledger.GetTransaction(ctx, tenant, id)
	if err != nil {
		return nil, err
	}
	if tx.Kind != KindTransfer {
		return nil, fmt.Errorf("%w: %s is %s, not a transfer", ErrInvalidTransfer, id, tx.Kind)
	}
	if err := p.check(ctx, tenant, tx.SourceAccountID, tx.DestinationAccountID, tx.Currency()); err != nil {
		return nil, err
	}
	return p.ledger.Post(ctx, tenant, id, actor)
}

// check enforces distinct accounts of one currency matching the transfer currency.
func (p *TransferProcessor) check(ctx context.Context, tenant, sourceID, destinationID, currency string) error {
	if sourceID == "" {
		return invalid("source_account_id", ErrMissingField)
	}
	if destinationID == "" {
		return invalid("destination_account_id", ErrMissingField)
	}
	if sourceID == destinationID {
		return fmt.Errorf("%w: source and destination are both %s", ErrInvalidTransfer, sourceID)
	}

	cur, err := money.LookupCurrency(currency)
	if err != nil {
		return invalid("currency", err)
	}
	source, err := p.account(ctx, tenant, sourceID, "source_account_id")
	if err != nil {
		return err
	}
	destination, err := p.account(ctx, tenant, destinationID, "destination_account_id")
	if err != nil {
		return err
	}

	if source.Currency != destination.Currency {
		return fmt.Errorf("%w: source %s holds %s, destination %s holds %s",
			ErrInvalidTransfer, source.ID, source.Currency, destination.ID, destination.Currency)
	}
	if !strings.EqualFold(source.Currency, cur.Code) {
		return fmt.Errorf("%w: accounts hold %s, transfer in %s", ErrInvalidTransfer, source.Currency, cur.Code)
	}
	return nil
}

func (p *TransferProcessor) account(ctx context.Context, tenant, id, field string) (*Account, error) {
	acc, err := p.ledger.repo.GetAccount(ctx, tenant, id)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid(field, err)
	}
	return acc, err
}
