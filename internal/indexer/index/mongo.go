package index

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/brendte/news-router/internal/news"
)

type dictionaryDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	Word string             `bson:"word"`
	DF   int64              `bson:"df"`
}

type postingDoc struct {
	DocumentID int64 `bson:"document_id"`
	TF         int   `bson:"tf"`
}

type postingsDoc struct {
	ID       primitive.ObjectID `bson:"_id,omitempty"`
	WordID   primitive.ObjectID `bson:"word_id"`
	Postings []postingDoc       `bson:"postings"`
}

// MongoStore keeps each kind's index in two collections,
// <kind>_dictionary {word, df} and <kind>_postings {word_id, postings}.
type MongoStore struct {
	db     *mongo.Database
	closer func() error
}

// NewMongoStore uses db for storage. closer, if non-nil, is called by Close.
func NewMongoStore(db *mongo.Database, closer func() error) *MongoStore {
	return &MongoStore{db: db, closer: closer}
}

func (s *MongoStore) dictionary(kind news.Kind) *mongo.Collection {
	return s.db.Collection(string(kind) + "_dictionary")
}

func (s *MongoStore) postings(kind news.Kind) *mongo.Collection {
	return s.db.Collection(string(kind) + "_postings")
}

// EnsureIndexes creates the unique indexes the upserts rely on.
func (s *MongoStore) EnsureIndexes(ctx context.Context, kinds ...news.Kind) error {
	for _, kind := range kinds {
		if _, err := s.dictionary(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "word", Value: 1}},
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return fmt.Errorf("creating %s dictionary index: %w", kind, err)
		}
		if _, err := s.postings(kind).Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    bson.D{{Key: "word_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		}); err != nil {
			return fmt.Errorf("creating %s postings index: %w", kind, err)
		}
	}
	return nil
}

func (s *MongoStore) UpsertTerm(ctx context.Context, kind news.Kind, term string) (TermID, error) {
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	update := bson.M{"$inc": bson.M{"df": 1}}

	var doc dictionaryDoc
	err := s.dictionary(kind).FindOneAndUpdate(ctx, bson.M{"word": term}, update, opts).Decode(&doc)
	if mongo.IsDuplicateKeyError(err) {
		// lost the insert race; the entry exists now so the retry is an update
		err = s.dictionary(kind).FindOneAndUpdate(ctx, bson.M{"word": term}, update, opts).Decode(&doc)
	}
	if err != nil {
		return "", fmt.Errorf("upserting term %q: %w", term, err)
	}
	return TermID(doc.ID.Hex()), nil
}

func (s *MongoStore) AppendPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64, tf int) error {
	wordID, err := primitive.ObjectIDFromHex(string(termID))
	if err != nil {
		return fmt.Errorf("invalid term id %q: %w", termID, err)
	}
	coll := s.postings(kind)
	res, err := coll.UpdateOne(ctx,
		bson.M{"word_id": wordID, "postings.document_id": docID},
		bson.M{"$set": bson.M{"postings.$.tf": tf}},
	)
	if err != nil {
		return fmt.Errorf("merging posting for term %s: %w", termID, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}
	_, err = coll.UpdateOne(ctx,
		bson.M{"word_id": wordID},
		bson.M{"$push": bson.M{"postings": postingDoc{DocumentID: docID, TF: tf}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("appending posting for term %s: %w", termID, err)
	}
	return nil
}

func (s *MongoStore) HasPosting(ctx context.Context, kind news.Kind, termID TermID, docID int64) (bool, error) {
	wordID, err := primitive.ObjectIDFromHex(string(termID))
	if err != nil {
		return false, fmt.Errorf("invalid term id %q: %w", termID, err)
	}
	n, err := s.postings(kind).CountDocuments(ctx,
		bson.M{"word_id": wordID, "postings.document_id": docID},
		options.Count().SetLimit(1),
	)
	if err != nil {
		return false, fmt.Errorf("checking posting of term %s: %w", termID, err)
	}
	return n > 0, nil
}

func (s *MongoStore) LookupTerm(ctx context.Context, kind news.Kind, term string) (Entry, bool, error) {
	var doc dictionaryDoc
	err := s.dictionary(kind).FindOne(ctx, bson.M{"word": term}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("looking up term %q: %w", term, err)
	}
	return Entry{ID: TermID(doc.ID.Hex()), Term: doc.Word, DF: doc.DF}, true, nil
}

func (s *MongoStore) LookupPostings(ctx context.Context, kind news.Kind, termID TermID) (PostingList, bool, error) {
	wordID, err := primitive.ObjectIDFromHex(string(termID))
	if err != nil {
		return PostingList{}, false, fmt.Errorf("invalid term id %q: %w", termID, err)
	}
	var doc postingsDoc
	err = s.postings(kind).FindOne(ctx, bson.M{"word_id": wordID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return PostingList{}, false, nil
	}
	if err != nil {
		return PostingList{}, false, fmt.Errorf("reading postings of term %s: %w", termID, err)
	}
	list := PostingList{TermID: termID, Postings: make([]Posting, 0, len(doc.Postings))}
	for _, p := range doc.Postings {
		list.Postings = append(list.Postings, Posting{DocID: p.DocumentID, TF: p.TF})
	}
	sortPostings(list.Postings)
	return list, true, nil
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

func (s *MongoStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}
