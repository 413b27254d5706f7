package mngo_types

import (
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MongoChatMessage is the durable form of a published chat event. The
// realtime core writes it before fan-out; history reads belong to the REST
// tier.
type MongoChatMessage struct {
	Id        primitive.ObjectID `bson:"_id" json:"Id"`
	TopicId   string             `bson:"topicId" json:"TopicId"`
	SenderId  string             `bson:"senderId" json:"SenderId"`
	Body      bson.Raw           `bson:"body" json:"Body"`
	CreatedAt time.Time          `bson:"createdAt" json:"CreatedAt"`
}

// MongoFriendship is one accepted edge of the social graph, stored with both
// endpoints so either side's friend list is a single indexed query.
type MongoFriendship struct {
	Id        primitive.ObjectID `bson:"_id" json:"Id"`
	UserA     string             `bson:"userA" json:"UserA"`
	UserB     string             `bson:"userB" json:"UserB"`
	Status    string             `bson:"status" json:"Status"`
	CreatedAt time.Time          `bson:"createdAt" json:"CreatedAt"`
}
