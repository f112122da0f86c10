package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"google.golang.org/api/googleapi"

	"github.com/mathcivilce/mailsync/internal/gmail"
	"github.com/mathcivilce/mailsync/internal/models"
)

const (
	// EmailsPerPage is the page size requested from the mailbox provider.
	EmailsPerPage = 50
)

// MailClient is the slice of the Gmail client the processor depends on.
type MailClient interface {
	FetchMessageIDs(ctx context.Context, accessToken string, query string, maxResults int, pageToken string) (*gmail.MessageIDPage, error)
	RefreshAccessToken(ctx context.Context, refreshToken string) (*gmail.TokenRefreshResult, error)
}

// MailboxProcessor is the production ChunkProcessor: it walks one
// chunk's date window page by page, recording discovered message IDs.
// After pagesPerClaim pages it yields a partial cursor so the claim
// stays short-lived and the sweeper timeout keeps meaning something.
type MailboxProcessor struct {
	accounts      AccountStore
	mail          MailClient
	sink          MessageSink
	pagesPerClaim int
}

func NewMailboxProcessor(accounts AccountStore, mail MailClient, sink MessageSink, pagesPerClaim int) *MailboxProcessor {
	return &MailboxProcessor{
		accounts:      accounts,
		mail:          mail,
		sink:          sink,
		pagesPerClaim: pagesPerClaim,
	}
}

// Process syncs the chunk's mailbox range. The returned error is a
// *ProcessingError classifying the failure; chunk state itself is never
// touched here.
func (p *MailboxProcessor) Process(ctx context.Context, job *models.SyncJob, chunk *models.ChunkJob) (*Outcome, error) {
	cr, err := DecodeChunkRange(chunk.Payload)
	if err != nil {
		return nil, Permanent("malformed chunk payload", err)
	}

	account, err := p.accounts.GetByID(ctx, job.AccountID)
	if err != nil {
		return nil, Permanent("failed to load account", err)
	}
	if account.AccessToken == nil || account.RefreshToken == nil {
		return nil, Permanent("account missing tokens", nil)
	}

	accessToken := *account.AccessToken
	if tokenExpired(account.AccessTokenExpiresAt) {
		log.Printf("Access token expired for account %s, refreshing...", account.ID)
		accessToken, err = p.refreshToken(ctx, account)
		if err != nil {
			return nil, err
		}
	}

	query := gmail.BuildQuery(cr.After, cr.Before)
	pageToken := cr.PageToken
	fetched := 0

	for page := 0; page < p.pagesPerClaim; page++ {
		result, err := p.mail.FetchMessageIDs(ctx, accessToken, query, EmailsPerPage, pageToken)
		if err != nil {
			return nil, classifyFetchError(err)
		}

		if err := p.sink.RecordMessages(ctx, job.AccountID, result.MessageIDs); err != nil {
			return nil, Transient("failed to record messages", err)
		}
		fetched += len(result.MessageIDs)

		if result.NextPageToken == "" {
			log.Printf("Chunk %d of job %s exhausted its range (%d messages)", chunk.Seq, job.ID, fetched)
			return &Outcome{Fetched: fetched}, nil
		}
		pageToken = result.NextPageToken
	}

	// Page budget spent with more to go: hand the cursor back so the
	// next claim of this chunk resumes mid-window.
	log.Printf("Chunk %d of job %s yielding after %d messages (cursor kept)", chunk.Seq, job.ID, fetched)
	return &Outcome{PartialCursor: &pageToken, Fetched: fetched}, nil
}

func (p *MailboxProcessor) refreshToken(ctx context.Context, account *models.Account) (string, error) {
	result, err := p.mail.RefreshAccessToken(ctx, *account.RefreshToken)
	if err != nil {
		// A dead refresh token means the grant was revoked; retrying
		// cannot help.
		return "", Permanent("failed to refresh access token", err)
	}

	if err := p.accounts.UpdateTokens(ctx, account.ID, result.AccessToken, result.RefreshToken, result.ExpiresAt); err != nil {
		return "", Transient("failed to persist refreshed tokens", err)
	}
	return result.AccessToken, nil
}

// tokenExpired checks if the access token is expired or expires within 5 minutes
func tokenExpired(expiresAt *time.Time) bool {
	if expiresAt == nil {
		return true
	}
	return time.Now().Add(5 * time.Minute).After(*expiresAt)
}

// classifyFetchError maps provider errors onto the retry taxonomy:
// auth problems are permanent, everything else (rate limits, 5xx,
// network) is worth retrying.
func classifyFetchError(err error) *ProcessingError {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401, 403:
			return Permanent(fmt.Sprintf("mailbox access denied (HTTP %d)", apiErr.Code), err)
		default:
			return Transient(fmt.Sprintf("mailbox fetch failed (HTTP %d)", apiErr.Code), err)
		}
	}
	return Transient("mailbox fetch failed", err)
}
