package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/caravela/api/internal/domain"
	pfirestore "github.com/caravela/api/internal/platform/firestore"
	"github.com/caravela/api/internal/repositories"
)

const paymentEventsCollection = "paymentEvents"

type paymentEventDocument struct {
	Provider    string    `firestore:"provider"`
	ExternalID  string    `firestore:"externalId"`
	Type        string    `firestore:"type"`
	OrderNumber string    `firestore:"orderNumber"`
	IntentID    string    `firestore:"intentId,omitempty"`
	ReceivedAt  time.Time `firestore:"receivedAt"`
}

// PaymentEventRepository records webhook deliveries keyed on the external
// event ID so replays are detected with a single conditional write.
type PaymentEventRepository struct {
	provider *pfirestore.Provider
	events   *pfirestore.BaseRepository[paymentEventDocument]
}

// NewPaymentEventRepository constructs a Firestore-backed payment event repository.
func NewPaymentEventRepository(provider *pfirestore.Provider) (*PaymentEventRepository, error) {
	if provider == nil {
		return nil, errors.New("payment event repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[paymentEventDocument](provider, paymentEventsCollection, nil, nil)
	return &PaymentEventRepository{
		provider: provider,
		events:   base,
	}, nil
}

// Record persists the event when its external ID is unseen. The Create call
// fails with AlreadyExists for replays, which is reported as (false, nil):
// the first writer wins and every later delivery is a no-op.
func (r *PaymentEventRepository) Record(ctx context.Context, event domain.PaymentEvent) (bool, error) {
	if r == nil || r.events == nil {
		return false, errors.New("payment event repository not initialised")
	}
	provider := strings.TrimSpace(event.Provider)
	externalID := strings.TrimSpace(event.ExternalID)
	if provider == "" || externalID == "" {
		return false, errors.New("payment event repository: provider and external id are required")
	}

	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	doc := paymentEventDocument{
		Provider:    provider,
		ExternalID:  externalID,
		Type:        string(event.Type),
		OrderNumber: strings.TrimSpace(event.OrderNumber),
		IntentID:    strings.TrimSpace(event.IntentID),
		ReceivedAt:  receivedAt,
	}

	ref, err := r.events.DocumentRef(ctx, paymentEventDocID(provider, externalID))
	if err != nil {
		return false, err
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return false, nil
		}
		return false, pfirestore.WrapError("paymentEvents.record", err)
	}
	return true, nil
}

// Find loads a previously recorded event.
func (r *PaymentEventRepository) Find(ctx context.Context, provider string, externalID string) (domain.PaymentEvent, error) {
	if r == nil || r.events == nil {
		return domain.PaymentEvent{}, errors.New("payment event repository not initialised")
	}
	p := strings.TrimSpace(provider)
	id := strings.TrimSpace(externalID)
	if p == "" || id == "" {
		return domain.PaymentEvent{}, errors.New("payment event repository: provider and external id are required")
	}

	doc, err := r.events.Get(ctx, paymentEventDocID(p, id))
	if err != nil {
		return domain.PaymentEvent{}, err
	}
	return domain.PaymentEvent{
		ID:          doc.ID,
		Provider:    doc.Data.Provider,
		ExternalID:  doc.Data.ExternalID,
		Type:        domain.PaymentEventType(doc.Data.Type),
		OrderNumber: doc.Data.OrderNumber,
		IntentID:    doc.Data.IntentID,
		ReceivedAt:  doc.Data.ReceivedAt,
	}, nil
}

// paymentEventDocID derives a stable document ID from provider and event ID.
// Hashing keeps provider event IDs with path-hostile characters usable.
func paymentEventDocID(provider, externalID string) string {
	sum := sha256.Sum256([]byte(provider + "|" + externalID))
	return hex.EncodeToString(sum[:])
}

var _ repositories.PaymentEventRepository = (*PaymentEventRepository)(nil)
