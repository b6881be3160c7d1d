package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"tangent/internal/domain"
	"tangent/internal/domain/models"
	"tangent/internal/domain/repositories"
)

const contentCollection = "chat_content"

// chatContent is the per-chat document: the whole turn sequence lives in one
// document so every store operation is a single-document (hence atomic) write.
type chatContent struct {
	ChatID string        `bson:"chat_id"`
	Turns  []models.Turn `bson:"turns"`
}

// ConversationStore implements the ConversationStore interface on MongoDB.
type ConversationStore struct {
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewConversationStore creates a mongo-backed conversation store.
func NewConversationStore(db *mongo.Database, logger *slog.Logger) *ConversationStore {
	return &ConversationStore{
		coll:   db.Collection(contentCollection),
		logger: logger,
	}
}

var _ repositories.ConversationStore = (*ConversationStore)(nil)

// Connect dials MongoDB and verifies connectivity.
func Connect(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return client, nil
}

// EnsureIndexes creates the unique chat_id index the store relies on.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(contentCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "chat_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("create chat_content indexes: %w", err)
	}
	return nil
}

// InitChat inserts the empty content document for a new chat.
func (s *ConversationStore) InitChat(ctx context.Context, chatID string) error {
	_, err := s.coll.InsertOne(ctx, chatContent{ChatID: chatID, Turns: []models.Turn{}})
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("chat %s: %w", chatID, domain.ErrConflict)
		}
		return fmt.Errorf("init chat content: %w", err)
	}
	return nil
}

// AppendQuestion pushes a pending turn whose position is assigned server-side
// from the current array length, so concurrent appends on one chat can never
// share a position.
func (s *ConversationStore) AppendQuestion(ctx context.Context, chatID, question string) (*models.Turn, error) {
	turnID := uuid.NewString()
	update := []bson.M{{
		"$set": bson.M{
			"turns": bson.M{
				"$concatArrays": bson.A{"$turns", bson.A{bson.M{
					"turn_id":            turnID,
					"seq":                bson.M{"$size": "$turns"},
					"question":           question,
					"answer":             "",
					"sequence_timestamp": time.Now().UTC(),
					"branches":           bson.A{},
				}}},
			},
		},
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc chatContent
	err := s.coll.FindOneAndUpdate(ctx, bson.M{"chat_id": chatID}, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("append question: %w", err)
	}

	turn := doc.Turns[len(doc.Turns)-1]
	return &turn, nil
}

// SetAnswer fills a pending turn's answer. The array filter requires the
// answer to still be empty, so a second writer loses the race and gets
// ErrConflict instead of overwriting.
func (s *ConversationStore) SetAnswer(ctx context.Context, chatID, turnID, answer string) (*models.Turn, error) {
	update := bson.M{"$set": bson.M{"turns.$[t].answer": answer}}
	opts := options.UpdateOne().SetArrayFilters([]interface{}{
		bson.M{"t.turn_id": turnID, "t.answer": ""},
	})

	result, err := s.coll.UpdateOne(ctx, bson.M{"chat_id": chatID}, update, opts)
	if err != nil {
		return nil, fmt.Errorf("set answer: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
	}
	if result.ModifiedCount == 0 {
		// Either the turn does not exist or its answer is already set.
		if _, err := s.GetTurn(ctx, chatID, turnID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("turn %s already answered: %w", turnID, domain.ErrConflict)
	}

	return s.GetTurn(ctx, chatID, turnID)
}

// GetTurn retrieves a single turn by id via a positional projection.
func (s *ConversationStore) GetTurn(ctx context.Context, chatID, turnID string) (*models.Turn, error) {
	filter := bson.M{"chat_id": chatID, "turns.turn_id": turnID}
	opts := options.FindOne().SetProjection(bson.M{"turns.$": 1})

	var doc chatContent
	err := s.coll.FindOne(ctx, filter, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get turn: %w", err)
	}
	if len(doc.Turns) == 0 {
		return nil, fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}

	turn := doc.Turns[0]
	return &turn, nil
}

// ListTurns returns the full history in sequence order.
func (s *ConversationStore) ListTurns(ctx context.Context, chatID string) ([]models.Turn, error) {
	var doc chatContent
	err := s.coll.FindOne(ctx, bson.M{"chat_id": chatID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("chat %s: %w", chatID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("list turns: %w", err)
	}
	if doc.Turns == nil {
		doc.Turns = []models.Turn{}
	}
	return doc.Turns, nil
}

// LinkBranch adds branchChatID to the turn's branches set. $addToSet makes the
// retry path a no-op rather than a duplicate.
func (s *ConversationStore) LinkBranch(ctx context.Context, chatID, turnID, branchChatID string) error {
	filter := bson.M{"chat_id": chatID, "turns.turn_id": turnID}
	update := bson.M{"$addToSet": bson.M{"turns.$.branches": branchChatID}}

	result, err := s.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("link branch: %w", err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("turn %s: %w", turnID, domain.ErrNotFound)
	}
	return nil
}

// Search matches query as a case-insensitive substring of question or answer.
func (s *ConversationStore) Search(ctx context.Context, chatID, query string) ([]models.Turn, error) {
	pattern := regexp.QuoteMeta(query)
	cursor, err := s.coll.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"chat_id": chatID}},
		{"$unwind": "$turns"},
		{"$match": bson.M{"$or": bson.A{
			bson.M{"turns.question": bson.M{"$regex": pattern, "$options": "i"}},
			bson.M{"turns.answer": bson.M{"$regex": pattern, "$options": "i"}},
		}}},
		{"$sort": bson.M{"turns.seq": 1}},
		{"$replaceRoot": bson.M{"newRoot": "$turns"}},
	})
	if err != nil {
		return nil, fmt.Errorf("search turns: %w", err)
	}
	defer cursor.Close(ctx)

	turns := []models.Turn{}
	if err := cursor.All(ctx, &turns); err != nil {
		return nil, fmt.Errorf("decode search results: %w", err)
	}
	return turns, nil
}

// CopyPrefix snapshots the source document, rewrites the prefix with fresh
// ids, and lands it in the destination with a single $set. Both sides are
// single-document operations, so a racing append is either wholly in the
// snapshot or wholly absent.
func (s *ConversationStore) CopyPrefix(ctx context.Context, sourceChatID, throughTurnID, destChatID string) (int, error) {
	var src chatContent
	err := s.coll.FindOne(ctx, bson.M{"chat_id": sourceChatID}).Decode(&src)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, fmt.Errorf("chat %s: %w", sourceChatID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("read source chat: %w", err)
	}

	through := -1
	for i, t := range src.Turns {
		if t.ID == throughTurnID {
			through = i
			break
		}
	}
	if through < 0 {
		return 0, fmt.Errorf("turn %s: %w", throughTurnID, domain.ErrNotFound)
	}

	prefix := make([]models.Turn, through+1)
	for i, t := range src.Turns[:through+1] {
		prefix[i] = models.Turn{
			ID:        uuid.NewString(),
			Seq:       i,
			Question:  t.Question,
			Answer:    t.Answer,
			Timestamp: t.Timestamp,
			Branches:  []string{},
		}
	}

	result, err := s.coll.UpdateOne(ctx,
		bson.M{"chat_id": destChatID},
		bson.M{"$set": bson.M{"turns": prefix}},
	)
	if err != nil {
		return 0, fmt.Errorf("write prefix: %w", err)
	}
	if result.MatchedCount == 0 {
		return 0, fmt.Errorf("chat %s: %w", destChatID, domain.ErrNotFound)
	}

	return len(prefix), nil
}
