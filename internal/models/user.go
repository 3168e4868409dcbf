package models

import "time"

// User is an application user, keyed by the identity provider's subject.
// Sub is the identity stamped into created.by / updated.by of records.
type User struct {
	ID          string    `bson:"_id,omitempty" json:"id"`
	Sub         string    `bson:"sub" json:"sub"`
	Email       string    `bson:"email" json:"email"`
	Name        string    `bson:"name" json:"name"`
	CreatedAt   time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time `bson:"updatedAt" json:"updatedAt"`
	LastLoginAt time.Time `bson:"lastLoginAt" json:"lastLoginAt"`
}
