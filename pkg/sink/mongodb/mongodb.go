// Package mongodb loads batches into MongoDB, one collection per resource.
// Merged resources get a unique index on the customer id plus the merge key
// and are upserted with ReplaceOne.
package mongodb

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/ajitpratap0/adsync/pkg/config"
	"github.com/ajitpratap0/adsync/pkg/errors"
	"github.com/ajitpratap0/adsync/pkg/logger"
	"github.com/ajitpratap0/adsync/pkg/models"
	"github.com/ajitpratap0/adsync/pkg/sink"
)

// Name is the registered sink type
const Name = "mongodb"

// Sink writes to one MongoDB database
type Sink struct {
	client   *mongo.Client
	database *mongo.Database
	logger   *zap.Logger

	mu      sync.Mutex
	indexed map[string]bool
}

var _ sink.Sink = (*Sink)(nil)

// New connects to cfg.MongoDB.URI
func New(ctx context.Context, cfg config.DestinationConfig) (*Sink, error) {
	opts := options.Client().
		ApplyURI(cfg.MongoDB.URI).
		SetAppName("adsync").
		SetConnectTimeout(30 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to MongoDB")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to ping MongoDB")
	}

	log := logger.Get().With(zap.String("sink", Name), zap.String("database", cfg.MongoDB.Database))
	log.Info("connected to MongoDB")

	return &Sink{
		client:   client,
		database: client.Database(cfg.MongoDB.Database),
		logger:   log,
		indexed:  make(map[string]bool),
	}, nil
}

func (s *Sink) Name() string { return Name }

func (s *Sink) Write(ctx context.Context, batch *models.Batch) error {
	layout := sink.NewLayout(batch)
	coll := s.database.Collection(sink.TableName("", batch.Resource))

	if batch.Disposition == models.DispositionReplace && batch.First {
		res, err := coll.DeleteMany(ctx, bson.D{{Key: sink.CustomerColumn, Value: batch.CustomerID}})
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to clear customer documents").
				WithDetail("collection", coll.Name())
		}
		s.logger.Debug("customer documents cleared",
			zap.String("collection", coll.Name()),
			zap.String("customer_id", batch.CustomerID),
			zap.Int64("deleted", res.DeletedCount))
	}
	if batch.Len() == 0 {
		return nil
	}

	if len(layout.Key) == 0 {
		docs := make([]any, len(batch.Records))
		for i, rec := range batch.Records {
			docs[i] = Document(layout, rec)
		}
		if _, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false)); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to insert documents").
				WithDetail("collection", coll.Name())
		}
		return nil
	}

	if err := s.ensureIndex(ctx, coll, layout.Key); err != nil {
		return err
	}

	records := sink.Dedupe(batch.Records)
	writes := make([]mongo.WriteModel, len(records))
	for i, rec := range records {
		doc := Document(layout, rec)
		writes[i] = mongo.NewReplaceOneModel().
			SetFilter(Filter(layout.Key, doc)).
			SetReplacement(doc).
			SetUpsert(true)
	}
	res, err := coll.BulkWrite(ctx, writes, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "bulk upsert failed").
			WithDetail("collection", coll.Name())
	}
	s.logger.Debug("documents upserted",
		zap.String("collection", coll.Name()),
		zap.Int64("matched", res.MatchedCount),
		zap.Int64("upserted", res.UpsertedCount))
	return nil
}

func (s *Sink) Close(ctx context.Context) error {
	if err := s.client.Disconnect(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to disconnect from MongoDB")
	}
	return nil
}

func (s *Sink) ensureIndex(ctx context.Context, coll *mongo.Collection, key []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexed[coll.Name()] {
		return nil
	}

	keys := make(bson.D, len(key))
	for i, k := range key {
		keys[i] = bson.E{Key: k, Value: 1}
	}
	name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetUnique(true).SetName("adsync_" + strings.Join(key, "_")),
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to create key index").
			WithDetail("collection", coll.Name())
	}
	s.logger.Debug("key index ready", zap.String("collection", coll.Name()), zap.String("index", name))
	s.indexed[coll.Name()] = true
	return nil
}

// Document renders a record as a BSON document. Object and array fields
// keep their structure instead of the JSON text the SQL sinks store.
func Document(l sink.Layout, rec models.Record) bson.M {
	doc := bson.M(l.Document(rec))
	for _, c := range l.Columns {
		if c.Type != sink.TypeObject && c.Type != sink.TypeArray {
			continue
		}
		if v, ok := rec.Data[c.Name]; ok && v != nil {
			doc[c.Name] = v
		}
	}
	return doc
}

// Filter selects the document holding the key values of doc
func Filter(key []string, doc bson.M) bson.D {
	out := make(bson.D, len(key))
	for i, k := range key {
		out[i] = bson.E{Key: k, Value: doc[k]}
	}
	return out
}
