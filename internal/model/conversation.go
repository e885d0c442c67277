package model

import "time"

type (
	Conversation struct {
		ID        int64     `bson:"_id" json:"id"`
		Title     string    `bson:"title" json:"title"`
		MemberIDs []int64   `bson:"member_ids" json:"memberIds,omitempty"`
		CreatedAt time.Time `bson:"created_at" json:"createdAt"`
	}
)
