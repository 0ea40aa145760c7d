package models

// Player is the participant behind a player wallet. SponsorNodeID is the
// node whose ancestor chain earns commission on the player's matches.
type Player struct {
	ID            uint   `gorm:"primaryKey" json:"id"`
	Username      string `gorm:"uniqueIndex;not null" json:"username"`
	SponsorNodeID *uint  `gorm:"index" json:"sponsor_node_id"`
	Status        string `gorm:"type:varchar(16);not null;default:'active'" json:"status"`

	Timestamps
}
