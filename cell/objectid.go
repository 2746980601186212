package cell

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ObjectID is a 12-byte identifier laid out like a BSON ObjectId: a 4-byte
// big-endian Unix timestamp, 5 bytes of per-process randomness and a
// 3-byte counter.
type ObjectID [12]byte

func NewObjectID() ObjectID {
	return ObjectID(primitive.NewObjectID())
}

func NewObjectIDAt(t time.Time) ObjectID {
	return ObjectID(primitive.NewObjectIDFromTimestamp(t))
}

func ParseObjectID(s string) (ObjectID, error) {
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return ObjectID{}, fmt.Errorf("invalid object id %q: %w", s, err)
	}
	return ObjectID(id), nil
}

// BSON returns id as the driver's type, for handing to MongoDB clients.
func (id ObjectID) BSON() primitive.ObjectID {
	return primitive.ObjectID(id)
}

func (id ObjectID) Timestamp() time.Time {
	return primitive.ObjectID(id).Timestamp().UTC()
}

func (id ObjectID) IsZero() bool {
	return primitive.ObjectID(id).IsZero()
}

func (id ObjectID) String() string {
	return primitive.ObjectID(id).Hex()
}
