package model

import "time"

type (
	// Device is one keypair-holding endpoint of a user. (OwnerID,
	// DeviceID) is unique; re-enrollment replaces PublicKeyPEM in
	// place, devices are never implicitly deleted.
	Device struct {
		OwnerID      int64     `bson:"owner_id" json:"ownerId"`
		DeviceID     string    `bson:"device_id" json:"deviceId"`
		PublicKeyPEM string    `bson:"public_key_pem" json:"publicKeyPem"`
		CreatedAt    time.Time `bson:"created_at" json:"createdAt"`
		LastSeenAt   time.Time `bson:"last_seen_at" json:"lastSeenAt"`
	}
)
