package idempotency

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultCollection  = "checkout_replays"
	defaultMaxAttempts = 5
)

// FirestoreOption customises the FirestoreStore.
type FirestoreOption func(*FirestoreStore)

// WithCollection overrides the collection holding replay records.
func WithCollection(name string) FirestoreOption {
	return func(store *FirestoreStore) {
		if name != "" {
			store.collection = name
		}
	}
}

// WithMaxAttempts configures transaction retry attempts.
func WithMaxAttempts(attempts int) FirestoreOption {
	return func(store *FirestoreStore) {
		if attempts > 0 {
			store.maxAttempts = attempts
		}
	}
}

// FirestoreStore implements Store on Firestore. Claims are single-document
// transactions, so two racing checkout submissions with the same key resolve
// to exactly one accepted claim.
type FirestoreStore struct {
	client      *firestore.Client
	collection  string
	maxAttempts int
}

// NewFirestoreStore builds a Firestore-backed store.
func NewFirestoreStore(client *firestore.Client, opts ...FirestoreOption) *FirestoreStore {
	store := &FirestoreStore{
		client:      client,
		collection:  defaultCollection,
		maxAttempts: defaultMaxAttempts,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

func (s *FirestoreStore) docRef(key string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(recordID(key))
}

func (s *FirestoreStore) attempts() int {
	if s.maxAttempts <= 0 {
		return 1
	}
	return s.maxAttempts
}

// Claim takes ownership of the key or reports the existing record.
func (s *FirestoreStore) Claim(ctx context.Context, key, requestSum string, now time.Time, ttl time.Duration) (Claim, error) {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	var result Claim
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil && status.Code(err) != codes.NotFound {
			return err
		}

		fresh := err != nil
		var doc replayDocument
		if !fresh {
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			fresh = expired(doc.toRecord(), now)
			if !fresh && doc.RequestSum != requestSum {
				return ErrKeyReused
			}
		}

		if fresh {
			doc = replayDocument{
				Key:        key,
				RequestSum: requestSum,
				State:      string(StateInFlight),
				FirstSeen:  now,
				UpdatedAt:  now,
				ExpiresAt:  now.Add(ttl),
			}
			if err := tx.Set(ref, doc); err != nil {
				return err
			}
			result = Claim{Outcome: ClaimAccepted, Record: doc.toRecord()}
			return nil
		}

		if doc.State == string(StateStored) {
			result = Claim{Outcome: ClaimReplay, Record: doc.toRecord()}
			return nil
		}
		result = Claim{Outcome: ClaimInFlight, Record: doc.toRecord()}
		return nil
	}, firestore.MaxAttempts(s.attempts()))

	return result, err
}

// Complete persists the handler's reply for future replays.
func (s *FirestoreStore) Complete(ctx context.Context, key, requestSum string, reply Reply, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	ref := s.docRef(key)

	header := storableHeader(reply.Header)
	var body []byte
	if len(reply.Body) > 0 {
		body = append([]byte(nil), reply.Body...)
	}

	return s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		var doc replayDocument
		switch {
		case err != nil && status.Code(err) == codes.NotFound:
			doc = replayDocument{Key: key, RequestSum: requestSum, FirstSeen: now}
		case err != nil:
			return err
		default:
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.RequestSum != requestSum {
				return ErrKeyReused
			}
			if doc.FirstSeen.IsZero() {
				doc.FirstSeen = now
			}
		}

		doc.State = string(StateStored)
		doc.ReplyStatus = reply.Status
		doc.ReplyHeader = header
		doc.ReplyBody = body
		doc.UpdatedAt = now
		doc.ExpiresAt = now.Add(ttl)
		return tx.Set(ref, doc)
	}, firestore.MaxAttempts(s.attempts()))
}

// Forget deletes the claim so the shopper's retry starts over.
func (s *FirestoreStore) Forget(ctx context.Context, key, _ string) error {
	_, err := s.docRef(key).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return err
}

// Sweep deletes up to limit expired records in one batch.
func (s *FirestoreStore) Sweep(ctx context.Context, now time.Time, limit int) (int, error) {
	now = now.UTC()
	if limit <= 0 {
		limit = 100
	}

	query := s.client.Collection(s.collection).Where("expires_at", "<=", now).Limit(limit)
	docs, err := query.Documents(ctx).GetAll()
	if err != nil {
		return 0, err
	}
	if len(docs) == 0 {
		return 0, nil
	}

	batch := s.client.Batch()
	for _, doc := range docs {
		batch.Delete(doc.Ref)
	}
	if _, err := batch.Commit(ctx); err != nil {
		return 0, err
	}
	return len(docs), nil
}

type replayDocument struct {
	Key         string              `firestore:"key"`
	RequestSum  string              `firestore:"request_sum"`
	State       string              `firestore:"state"`
	ReplyStatus int                 `firestore:"reply_status"`
	ReplyHeader map[string][]string `firestore:"reply_header"`
	ReplyBody   []byte              `firestore:"reply_body"`
	FirstSeen   time.Time           `firestore:"first_seen"`
	UpdatedAt   time.Time           `firestore:"updated_at"`
	ExpiresAt   time.Time           `firestore:"expires_at"`
}

func (d replayDocument) toRecord() Record {
	return Record{
		Key:         d.Key,
		RequestSum:  d.RequestSum,
		State:       RecordState(d.State),
		ReplyStatus: d.ReplyStatus,
		ReplyHeader: d.ReplyHeader,
		ReplyBody:   d.ReplyBody,
		FirstSeen:   d.FirstSeen,
		UpdatedAt:   d.UpdatedAt,
		ExpiresAt:   d.ExpiresAt,
	}
}
