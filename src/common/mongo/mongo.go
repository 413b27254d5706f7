package vox_mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	mngo_types "github.com/voxcord/voxcord/src/common/mongo/types"
	vxl "github.com/voxcord/voxcord/src/common/voxlog"
)

type Collections struct {
	ChatMessages *mongo.Collection
	Friendships  *mongo.Collection
}

// M wraps the mongo client plus the collections the realtime core touches.
// It doubles as the durable store and the social-graph provider.
type M struct {
	Client *mongo.Client
	Db     *mongo.Database
	Col    Collections
}

func Connect(ctx context.Context, url string, dbName string) (*M, error) {

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		vxl.Stdout.Error(vxl.Id("vid/30c2f7a9d15e"), "could not connect to mongo:", err)
		return nil, err
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		vxl.Stdout.Error(vxl.Id("vid/eb84d01c35f2"), "could not ping mongo primary:", err)
		return nil, err
	}

	db := client.Database(dbName)

	return &M{
		Client: client,
		Db:     db,
		Col: Collections{
			ChatMessages: db.Collection("chat_messages"),
			Friendships:  db.Collection("friendships"),
		},
	}, nil
}

func (m *M) Disconnect(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}

// SaveMessage persists a published chat event before fan-out. The store is
// the source of truth for "did this message persist" -- a failed insert means
// the event must not be fanned out.
func (m *M) SaveMessage(ctx context.Context, topicId string, senderId string, body []byte) (string, error) {

	var raw bson.Raw
	if len(body) > 0 {
		var doc bson.D
		if err := bson.UnmarshalExtJSON(body, true, &doc); err != nil {
			// not a JSON object -- store it wrapped so nothing is lost
			doc = bson.D{{Key: "value", Value: string(body)}}
		}
		b, err := bson.Marshal(doc)
		if err != nil {
			return "", err
		}
		raw = b
	}

	msg := mngo_types.MongoChatMessage{
		Id:        primitive.NewObjectID(),
		TopicId:   topicId,
		SenderId:  senderId,
		Body:      raw,
		CreatedAt: time.Now().UTC(),
	}

	if _, err := m.Col.ChatMessages.InsertOne(ctx, msg); err != nil {
		vxl.Stdout.Error(vxl.Id("vid/551be0a97fd4"), "could not insert chat message:", err)
		return "", err
	}

	return msg.Id.Hex(), nil
}

// FriendIds answers "who should see this user's presence changes". Only
// accepted friendships count.
func (m *M) FriendIds(ctx context.Context, userId string) ([]string, error) {

	filter := bson.M{
		"status": "accepted",
		"$or": []bson.M{
			{"userA": userId},
			{"userB": userId},
		},
	}

	cur, err := m.Col.Friendships.Find(ctx, filter)
	if err != nil {
		vxl.Stdout.Warn(vxl.Id("vid/c97a30e51d28"), "could not query friendships:", err)
		return nil, err
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var f mngo_types.MongoFriendship
		if err := cur.Decode(&f); err != nil {
			vxl.Stdout.Warn(vxl.Id("vid/08de1b6a42cf"), "could not decode friendship:", err)
			continue
		}
		if f.UserA == userId {
			out = append(out, f.UserB)
		} else {
			out = append(out, f.UserA)
		}
	}

	return out, cur.Err()
}
