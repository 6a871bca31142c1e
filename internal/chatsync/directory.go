package chatsync

import "chat-sync/internal/models"

// Directory is an immutable user-id lookup built from one inbox snapshot.
// The inbox replaces it wholesale whenever the snapshot materially changes.
type Directory struct {
	version uint64
	users   map[string]models.Participant
}

func newDirectory(version uint64, convs []models.Conversation) *Directory {
	users := make(map[string]models.Participant)
	for _, c := range convs {
		for _, p := range c.Participants {
			users[p.UserID] = p
		}
	}
	return &Directory{version: version, users: users}
}

// Version identifies the snapshot the directory was built from.
func (d *Directory) Version() uint64 {
	if d == nil {
		return 0
	}
	return d.version
}

// Username implements models.UsernameLookup.
func (d *Directory) Username(userID string) (string, bool) {
	p, ok := d.Participant(userID)
	return p.Username, ok
}

// Participant returns the participant known under userID.
func (d *Directory) Participant(userID string) (models.Participant, bool) {
	if d == nil {
		return models.Participant{}, false
	}
	p, ok := d.users[userID]
	return p, ok
}

// Len reports how many users are known.
func (d *Directory) Len() int {
	if d == nil {
		return 0
	}
	return len(d.users)
}
