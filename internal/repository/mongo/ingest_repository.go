package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"audiobridge/internal/domain"
)

const defaultListLimit = 100

type IngestRepository struct {
	collection *mongo.Collection
}

type objectDoc struct {
	Path   string `bson:"path"`
	Key    string `bson:"key"`
	Length int64  `bson:"length"`
}

type ingestDoc struct {
	ID         string      `bson:"_id"`
	Source     string      `bson:"source"`
	Name       string      `bson:"name"`
	InfoHash   string      `bson:"infoHash,omitempty"`
	Status     string      `bson:"status"`
	Objects    []objectDoc `bson:"objects"`
	TotalBytes int64       `bson:"totalBytes"`
	Error      string      `bson:"error,omitempty"`
	CreatedAt  int64       `bson:"createdAt"`
	UpdatedAt  int64       `bson:"updatedAt"`
}

func NewIngestRepository(client *mongo.Client, dbName, collectionName string) *IngestRepository {
	return &IngestRepository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *IngestRepository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "infoHash", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *IngestRepository) Create(ctx context.Context, rec domain.IngestRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	_, err := r.collection.InsertOne(ctx, toIngestDoc(rec))
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: ingest %s", domain.ErrAlreadyExists, rec.ID)
	}
	return err
}

func (r *IngestRepository) Update(ctx context.Context, rec domain.IngestRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	doc := toIngestDoc(rec)
	set := bson.M{
		"source":     doc.Source,
		"name":       doc.Name,
		"infoHash":   doc.InfoHash,
		"status":     doc.Status,
		"objects":    doc.Objects,
		"totalBytes": doc.TotalBytes,
		"error":      doc.Error,
		"updatedAt":  doc.UpdatedAt,
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": rec.ID}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: ingest %s", domain.ErrNotFound, rec.ID)
	}
	return nil
}

func (r *IngestRepository) Get(ctx context.Context, id string) (domain.IngestRecord, error) {
	var doc ingestDoc
	if err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.IngestRecord{}, fmt.Errorf("%w: ingest %s", domain.ErrNotFound, id)
		}
		return domain.IngestRecord{}, err
	}
	return fromIngestDoc(doc), nil
}

// List returns the newest records first.
func (r *IngestRepository) List(ctx context.Context, limit int) ([]domain.IngestRecord, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: 1}}).
		SetLimit(int64(normalizeLimit(limit)))
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []ingestDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	records := make([]domain.IngestRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, fromIngestDoc(d))
	}
	return records, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}

func toIngestDoc(rec domain.IngestRecord) ingestDoc {
	objects := make([]objectDoc, 0, len(rec.Objects))
	for _, o := range rec.Objects {
		objects = append(objects, objectDoc{Path: o.Path, Key: o.Key, Length: o.Length})
	}
	return ingestDoc{
		ID:         rec.ID,
		Source:     string(rec.Source),
		Name:       rec.Name,
		InfoHash:   rec.InfoHash,
		Status:     string(rec.Status),
		Objects:    objects,
		TotalBytes: rec.TotalBytes,
		Error:      rec.Error,
		CreatedAt:  rec.CreatedAt.UnixMilli(),
		UpdatedAt:  rec.UpdatedAt.UnixMilli(),
	}
}

func fromIngestDoc(doc ingestDoc) domain.IngestRecord {
	objects := make([]domain.StoredObject, 0, len(doc.Objects))
	for _, o := range doc.Objects {
		objects = append(objects, domain.StoredObject{Path: o.Path, Key: o.Key, Length: o.Length})
	}
	return domain.IngestRecord{
		ID:         doc.ID,
		Source:     domain.IngestSource(doc.Source),
		Name:       doc.Name,
		InfoHash:   doc.InfoHash,
		Status:     domain.IngestStatus(doc.Status),
		Objects:    objects,
		TotalBytes: doc.TotalBytes,
		Error:      doc.Error,
		CreatedAt:  timeFromMillis(doc.CreatedAt),
		UpdatedAt:  timeFromMillis(doc.UpdatedAt),
	}
}

func timeFromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}
