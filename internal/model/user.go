package model

import "time"

type (
	// User is an authenticated principal. PublicKeyPEM holds the
	// account-scoped verification key; in the device-scoped variant
	// per-device keys live in Device instead.
	User struct {
		ID                 int64     `bson:"_id" json:"id"`
		Username           string    `bson:"username" json:"username"`
		DisplayName        string    `bson:"display_name" json:"displayName"`
		PasswordSalt       []byte    `bson:"password_salt" json:"-"`
		PasswordIterations int       `bson:"password_iterations" json:"-"`
		PasswordHash       []byte    `bson:"password_hash" json:"-"`
		PublicKeyPEM       string    `bson:"public_key_pem" json:"publicKeyPem,omitempty"`
		CreatedAt          time.Time `bson:"created_at" json:"createdAt"`
	}
)
