package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Doc is a decoded Firestore document with its server timestamps.
type Doc[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
}

// QueryBuilder shapes a collection query before it runs.
type QueryBuilder func(query firestore.Query) firestore.Query

// Collection is a typed handle on a Firestore collection. Repositories read
// through it and take document references into transactions; writes always
// happen inside those transactions so the stock and status guards hold.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed handle to a collection name.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: strings.TrimSpace(name)}
}

// Ref returns the document reference for use inside a transaction.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(c.op("ref"), errors.New("firestore: document id is required"))
	}
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

// Get fetches and decodes one document.
func (c *Collection[T]) Get(ctx context.Context, id string) (Doc[T], error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return Doc[T]{}, err
	}

	snap, err := ref.Get(ctx)
	if err != nil {
		return Doc[T]{}, WrapError(c.op("get"), err)
	}
	return decodeSnapshot[T](snap)
}

// Query runs a shaped query and decodes every matching document.
func (c *Collection[T]) Query(ctx context.Context, build QueryBuilder) ([]Doc[T], error) {
	coll, err := c.ref(ctx)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Doc[T]
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(c.op("query"), err)
		}
		doc, err := decodeSnapshot[T](snap)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snap.Ref.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (c *Collection[T]) ref(ctx context.Context) (*firestore.CollectionRef, error) {
	if c == nil || c.provider == nil {
		return nil, WrapError(c.op("collection"), errors.New("firestore: provider is nil"))
	}
	if c.name == "" {
		return nil, WrapError(c.op("collection"), errors.New("firestore: collection name is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name), nil
}

func (c *Collection[T]) op(action string) string {
	name := "firestore"
	if c != nil && c.name != "" {
		name = c.name
	}
	return name + "." + action
}

func decodeSnapshot[T any](snap *firestore.DocumentSnapshot) (Doc[T], error) {
	var data T
	if err := snap.DataTo(&data); err != nil {
		return Doc[T]{}, err
	}
	return Doc[T]{
		ID:         snap.Ref.ID,
		Data:       data,
		CreateTime: snap.CreateTime,
		UpdateTime: snap.UpdateTime,
		ReadTime:   snap.ReadTime,
	}, nil
}
