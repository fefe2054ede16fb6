package persistent

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/jghoshh/habittree/backend/models"
)

const (
	habitsCollection = "habits"
	statsCollection  = "stats"

	duplicateKeyCode = 11000
)

// MongoStorage is a struct representing a MongoDB storage.
// Habits live in the 'habits' collection and each user's stats document lives in
// the 'stats' collection keyed by the user id.
type MongoStorage struct {
	client          *mongo.Client
	dbName          string
	useTransactions bool
}

// NewMongoStorage creates a new instance of MongoStorage.
// This function doesn't establish a connection to the MongoDB server.
// To connect to the server, use the Connect method of the returned MongoStorage instance.
// Transactions require a replica set; when useTransactions is false WithTransaction runs its
// function directly.
func NewMongoStorage(useTransactions bool) *MongoStorage {
	return &MongoStorage{useTransactions: useTransactions}
}

// Connect establishes a connection to the MongoDB server at the given URI and a database name.
// Sets up indexes and unique constraints as necessary.
// Returns an error if any issues are encountered.
func (m *MongoStorage) Connect(dbName, uri string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return errors.Wrap(err, "error connecting to MongoDB")
	}

	m.client = client
	m.dbName = dbName

	habits := m.collection(habitsCollection)

	// Listing a user's habits sorts by creation time.
	userCreatedIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "created_at", Value: 1},
		},
	}
	_, err = habits.Indexes().CreateOne(ctx, userCreatedIndexModel)
	if err != nil {
		return errors.Wrap(err, "error creating user_id and created_at index")
	}

	// A user can't have two habits with the same title.
	userTitleIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "title", Value: 1},
		},
		Options: options.Index().SetUnique(true),
	}
	_, err = habits.Indexes().CreateOne(ctx, userTitleIndexModel)
	if err != nil {
		return errors.Wrap(err, "error creating user_id and title index")
	}

	// The nightly reset and the rescan both select a user's habits by category.
	userCategoryIndexModel := mongo.IndexModel{
		Keys: bson.D{
			{Key: "user_id", Value: 1},
			{Key: "category", Value: 1},
		},
	}
	_, err = habits.Indexes().CreateOne(ctx, userCategoryIndexModel)
	if err != nil {
		return errors.Wrap(err, "error creating user_id and category index")
	}

	return nil
}

// Disconnect closes the connection to the MongoDB server.
// It should be called when the MongoStorage instance is no longer needed.
// Returns an error if the disconnection process fails.
func (m *MongoStorage) Disconnect() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := m.client.Disconnect(ctx)
	if err != nil {
		return errors.Wrap(err, "error disconnecting from MongoDB")
	}

	return nil
}

func (m *MongoStorage) collection(name string) *mongo.Collection {
	return m.client.Database(m.dbName).Collection(name)
}

// WithTransaction runs fn inside a multi-document transaction when transactions are enabled.
// The context passed to fn carries the session, so every storage call made with it joins the
// transaction. Without transactions fn is called with ctx unchanged.
func (m *MongoStorage) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !m.useTransactions {
		return fn(ctx)
	}

	session, err := m.client.StartSession()
	if err != nil {
		return errors.Wrap(err, "error starting session")
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// AddHabit adds a new habit document to the 'habits' collection.
// The habit is provided as a pointer to a Habit instance.
// Returns the added habit instance, ErrDuplicate if the user already has a habit with that title,
// or an error if the insert operation fails.
func (m *MongoStorage) AddHabit(ctx context.Context, habit *models.Habit) (*models.Habit, error) {
	if habit.UserID == "" {
		return nil, errors.New("habit has no owner")
	}
	if habit.CompletionHistory == nil {
		// Dotted history writes need an embedded document to land in, not null.
		habit.CompletionHistory = models.History{}
	}

	result, err := m.collection(habitsCollection).InsertOne(ctx, habit)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, errors.Wrapf(ErrDuplicate, "%q", habit.Title)
		}
		return nil, err
	}
	habit.ID = result.InsertedID.(primitive.ObjectID)
	return habit, nil
}

// FindHabit finds the habit document with the given id owned by userID.
// Returns ErrNotFound if there is no such habit.
func (m *MongoStorage) FindHabit(ctx context.Context, userID, habitID string) (*models.Habit, error) {
	filter, err := habitFilter(userID, habitID)
	if err != nil {
		return nil, err
	}

	habit := &models.Habit{}
	err = m.collection(habitsCollection).FindOne(ctx, filter).Decode(habit)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return habit, nil
}

// FindHabits finds the habit documents owned by userID, oldest first.
// A non-empty category restricts the result to that category.
func (m *MongoStorage) FindHabits(ctx context.Context, userID string, category models.Category) ([]models.Habit, error) {
	filter := bson.M{"user_id": userID}
	if category != "" {
		filter["category"] = category
	}

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	cursor, err := m.collection(habitsCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	habits := []models.Habit{}
	for cursor.Next(ctx) {
		var habit models.Habit
		if err := cursor.Decode(&habit); err != nil {
			return nil, err
		}
		habits = append(habits, habit)
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return habits, nil
}

// UpdateHabit writes the fields of a completion toggle onto one habit.
// The history date is written as a single key so concurrent edits of other dates are preserved.
// Returns ErrNotFound if the habit does not exist.
func (m *MongoStorage) UpdateHabit(ctx context.Context, userID, habitID string, update models.HabitUpdate) (*UpdateResult, error) {
	filter, err := habitFilter(userID, habitID)
	if err != nil {
		return nil, err
	}

	set := bson.M{
		"is_completed":      update.IsCompleted,
		"streak":            update.Streak,
		"points":            update.Points,
		"last_completed_at": update.LastCompletedAt,
		"last_awarded_xp":   update.LastAwardedXP,
	}
	if update.HistoryDate != "" {
		set["completion_history."+update.HistoryDate] = update.HistoryValue
	}

	return m.updateHabit(ctx, filter, bson.M{"$set": set})
}

// SetHabitHistory writes completion_history[date] on one habit.
// Returns ErrNotFound if the habit does not exist.
func (m *MongoStorage) SetHabitHistory(ctx context.Context, userID, habitID, date string, completed bool) (*UpdateResult, error) {
	filter, err := habitFilter(userID, habitID)
	if err != nil {
		return nil, err
	}
	return m.updateHabit(ctx, filter, bson.M{"$set": bson.M{"completion_history." + date: completed}})
}

func (m *MongoStorage) updateHabit(ctx context.Context, filter bson.M, update bson.M) (*UpdateResult, error) {
	result, err := m.collection(habitsCollection).UpdateOne(ctx, filter, update)
	if err != nil {
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return &UpdateResult{MatchedCount: result.MatchedCount, ModifiedCount: result.ModifiedCount}, nil
}

// DeleteHabit deletes one habit owned by userID.
// Returns ErrNotFound if nothing was deleted.
func (m *MongoStorage) DeleteHabit(ctx context.Context, userID, habitID string) (*DeleteResult, error) {
	filter, err := habitFilter(userID, habitID)
	if err != nil {
		return nil, err
	}

	result, err := m.collection(habitsCollection).DeleteOne(ctx, filter)
	if err != nil {
		return nil, err
	}
	if result.DeletedCount == 0 {
		return nil, ErrNotFound
	}
	return &DeleteResult{DeletedCount: result.DeletedCount}, nil
}

// FindStats finds the stats document of userID.
// The document is decoded loosely so records written by older clients still load;
// the boolean result reports whether such a legacy shape was seen.
// Returns ErrNotFound if the user has no stats yet.
func (m *MongoStorage) FindStats(ctx context.Context, userID string) (*models.Stats, bool, error) {
	raw := bson.M{}
	err := m.collection(statsCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&raw)
	if err == mongo.ErrNoDocuments {
		return nil, false, ErrNotFound
	} else if err != nil {
		return nil, false, err
	}

	stats, legacy := decodeStats(raw)
	return &stats, legacy, nil
}

// CreateStats inserts stats unless the user already has a stats document.
// Returns true if the document was created by this call.
func (m *MongoStorage) CreateStats(ctx context.Context, stats *models.Stats) (bool, error) {
	doc, err := toDocument(stats)
	if err != nil {
		return false, err
	}
	delete(doc, "_id")

	result, err := m.collection(statsCollection).UpdateOne(ctx,
		bson.M{"_id": stats.UserID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, err
	}
	return result.UpsertedCount == 1, nil
}

// ApplyStatsUpdate merges update into the stats of userID with a single pipeline update.
// Every counter is recomputed server-side as max(0, stored + increment), so even an update
// computed from a stale snapshot never leaves a negative value behind. The document is
// created if it does not exist.
func (m *MongoStorage) ApplyStatsUpdate(ctx context.Context, userID string, update models.StatsUpdate) error {
	set := bson.M{
		"total_xp":               clampedAdd("total_xp", update.XP),
		"total_points":           clampedAdd("total_points", update.Points),
		"habits_completed_today": clampedAdd("habits_completed_today", update.Completed),
		"weekly_xp":              weeklyAdd(int(update.Day), update.DayXP),
		"current_streak":         max(update.CurrentStreak, 0),
		"last_active_date":       bson.M{"$literal": update.LastActiveDate},
		"last_reset_date":        bson.M{"$literal": update.LastResetDate},
		"total_habits_today":     ifNull("total_habits_today", 0),
		"schema_version":         ifNull("schema_version", models.CurrentSchemaVersion),
		"updated_at":             "$$NOW",
	}
	derived := bson.M{
		"longest_streak":        bson.M{"$max": bson.A{ifNull("longest_streak", 0), "$current_streak", update.LongestStreak}},
		"health_bar_percentage": healthBar(),
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		{{Key: "$set", Value: derived}},
	}

	_, err := m.collection(statsCollection).UpdateOne(ctx, bson.M{"_id": userID}, pipeline, options.Update().SetUpsert(true))
	return err
}

// AdjustHabitCount adds delta to total_habits_today, never going below zero.
func (m *MongoStorage) AdjustHabitCount(ctx context.Context, userID string, delta int) error {
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"total_habits_today": clampedAdd("total_habits_today", delta),
			"schema_version":     ifNull("schema_version", models.CurrentSchemaVersion),
			"updated_at":         "$$NOW",
		}}},
		{{Key: "$set", Value: bson.M{"health_bar_percentage": healthBar()}}},
	}
	_, err := m.collection(statsCollection).UpdateOne(ctx, bson.M{"_id": userID}, pipeline, options.Update().SetUpsert(true))
	return err
}

// MigrateStats replaces the stats document of stats.UserID with stats if the stored schema version
// is missing or older. Returns true if a document was replaced.
func (m *MongoStorage) MigrateStats(ctx context.Context, stats models.Stats) (bool, error) {
	filter := bson.M{
		"_id": stats.UserID,
		"$or": bson.A{
			bson.M{"schema_version": bson.M{"$exists": false}},
			bson.M{"schema_version": bson.M{"$lt": stats.SchemaVersion}},
		},
	}
	stats.UpdatedAt = time.Now().UTC()
	result, err := m.collection(statsCollection).ReplaceOne(ctx, filter, stats)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

// RepairStats clamps every counter of the stats of userID at zero and raises longest_streak to
// current_streak, in one atomic update.
func (m *MongoStorage) RepairStats(ctx context.Context, userID string) error {
	set := bson.M{
		"weekly_xp":  weeklyAdd(-1, 0),
		"updated_at": "$$NOW",
	}
	for _, field := range []string{
		"total_xp", "total_points", "current_streak", "longest_streak",
		"habits_completed_today", "total_habits_today",
	} {
		set[field] = clampedAdd(field, 0)
	}
	pipeline := mongo.Pipeline{
		{{Key: "$set", Value: set}},
		{{Key: "$set", Value: bson.M{
			"longest_streak":        bson.M{"$max": bson.A{"$longest_streak", "$current_streak"}},
			"health_bar_percentage": healthBar(),
		}}},
	}
	_, err := m.collection(statsCollection).UpdateOne(ctx, bson.M{"_id": userID}, pipeline)
	return err
}

// ResetStatsDay zeroes habits_completed_today and marks today as reset. The filter skips documents
// already reset today, so running it any number of times, alongside the nightly job, converges to
// the same state. Returns true if this call performed the reset.
func (m *MongoStorage) ResetStatsDay(ctx context.Context, userID, today string) (bool, error) {
	result, err := m.collection(statsCollection).UpdateOne(ctx,
		bson.M{"_id": userID, "last_reset_date": bson.M{"$ne": today}},
		bson.M{"$set": bson.M{
			"habits_completed_today": 0,
			"health_bar_percentage":  0,
			"last_reset_date":        today,
			"updated_at":             time.Now().UTC(),
		}},
	)
	if err != nil {
		return false, err
	}
	return result.ModifiedCount == 1, nil
}

// NormalizeStats rewrites the numeric fields and weekly_xp of a stats document in canonical form.
// It is called once after a legacy-shaped document has been read.
func (m *MongoStorage) NormalizeStats(ctx context.Context, stats models.Stats) error {
	_, err := m.collection(statsCollection).UpdateOne(ctx,
		bson.M{"_id": stats.UserID},
		bson.M{"$set": bson.M{
			"total_xp":               stats.TotalXP,
			"total_points":           stats.TotalPoints,
			"current_streak":         stats.CurrentStreak,
			"longest_streak":         stats.LongestStreak,
			"habits_completed_today": stats.HabitsCompletedToday,
			"total_habits_today":     stats.TotalHabitsToday,
			"health_bar_percentage":  stats.HealthBarPercentage,
			"weekly_xp":              stats.WeeklyXP,
			"schema_version":         stats.SchemaVersion,
		}},
	)
	return err
}

// WatchStats opens a change stream on the stats document of userID.
// Each insert, update or replace is delivered as a decoded snapshot on the returned channel,
// which is closed when ctx is done or the stream fails.
func (m *MongoStorage) WatchStats(ctx context.Context, userID string) (<-chan models.Stats, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"documentKey._id": userID}}},
	}
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := m.collection(statsCollection).Watch(ctx, pipeline, opts)
	if err != nil {
		return nil, errors.Wrap(err, "error opening stats change stream")
	}

	out := make(chan models.Stats)
	go func() {
		defer close(out)
		defer stream.Close(context.Background())

		for stream.Next(ctx) {
			var event struct {
				FullDocument bson.M `bson:"fullDocument"`
			}
			if err := stream.Decode(&event); err != nil || event.FullDocument == nil {
				continue
			}
			stats, _ := decodeStats(event.FullDocument)
			select {
			case out <- stats:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func habitFilter(userID, habitID string) (bson.M, error) {
	id, err := primitive.ObjectIDFromHex(habitID)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidID, "%q", habitID)
	}
	return bson.M{"_id": id, "user_id": userID}, nil
}

func isDuplicateKey(err error) bool {
	var writeException mongo.WriteException
	if errors.As(err, &writeException) {
		for _, writeError := range writeException.WriteErrors {
			if writeError.Code == duplicateKeyCode {
				return true
			}
		}
	}
	return false
}

func toDocument(v interface{}) (bson.M, error) {
	data, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	doc := bson.M{}
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func ifNull(field string, fallback interface{}) bson.M {
	return bson.M{"$ifNull": bson.A{"$" + field, fallback}}
}

// clampedAdd is the aggregation expression max(0, field + delta).
func clampedAdd(field string, delta int) bson.M {
	return bson.M{"$max": bson.A{0, bson.M{"$add": bson.A{ifNull(field, 0), delta}}}}
}

// weeklyAdd rebuilds weekly_xp as seven non-negative slots, adding delta to slot day.
// A day outside [0, 7) only clamps the existing values.
func weeklyAdd(day, delta int) bson.M {
	slot := bson.M{"$ifNull": bson.A{bson.M{"$arrayElemAt": bson.A{ifNull("weekly_xp", bson.A{}), "$$d"}}, 0}}
	return bson.M{"$map": bson.M{
		"input": bson.M{"$range": bson.A{0, models.DaysInWeek}},
		"as":    "d",
		"in": bson.M{"$max": bson.A{0, bson.M{"$cond": bson.A{
			bson.M{"$eq": bson.A{"$$d", day}},
			bson.M{"$add": bson.A{slot, delta}},
			slot,
		}}}},
	}}
}

// healthBar is the aggregation form of models.HealthBar over the stored counters.
func healthBar() bson.M {
	completed := ifNull("habits_completed_today", 0)
	total := ifNull("total_habits_today", 0)
	return bson.M{"$cond": bson.A{
		bson.M{"$lte": bson.A{total, 0}},
		0,
		bson.M{"$toInt": bson.M{"$min": bson.A{100, bson.M{"$floor": bson.M{"$divide": bson.A{
			bson.M{"$add": bson.A{bson.M{"$multiply": bson.A{completed, 200}}, total}},
			bson.M{"$multiply": bson.A{total, 2}},
		}}}}}},
	}}
}
