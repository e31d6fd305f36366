package document

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"pdfsearch/internal/apperr"
)

const collectionName = "documents"

// MongoRepo keeps document metadata in a MongoDB collection.
type MongoRepo struct {
	coll *mongo.Collection
}

func NewMongoRepo(db *mongo.Database) *MongoRepo {
	return &MongoRepo{coll: db.Collection(collectionName)}
}

// EnsureIndexes creates the unique index on file_name.
func (r *MongoRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "file_name", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (r *MongoRepo) Upsert(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"file_type":      doc.FileType,
			"file_size":      doc.FileSize,
			"page_count":     doc.PageCount,
			"storage_path":   doc.StoragePath,
			"extracted_text": doc.ExtractedText,
			"status":         doc.Status,
			"indexed":        doc.Indexed,
			"chunk_count":    doc.ChunkCount,
			"error_stage":    doc.ErrorStage,
			"error":          doc.Error,
			"updated_at":     now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := r.coll.UpdateOne(ctx, bson.M{"file_name": doc.FileName}, update, options.Update().SetUpsert(true))
	if err != nil {
		return err
	}
	doc.UpdatedAt = now
	return nil
}

func (r *MongoRepo) Get(ctx context.Context, fileName string) (*Document, error) {
	var d Document
	err := r.coll.FindOne(ctx, bson.M{"file_name": fileName}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, apperr.NotFound("document " + fileName)
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *MongoRepo) List(ctx context.Context) ([]Summary, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 0, "file_name": 1, "file_size": 1, "indexed": 1, "status": 1, "chunk_count": 1}).
		SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var docs []Summary
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

func (r *MongoRepo) Delete(ctx context.Context, fileName string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"file_name": fileName})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return apperr.NotFound("document " + fileName)
	}
	return nil
}

func (r *MongoRepo) Count(ctx context.Context) (int, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{})
	return int(n), err
}
