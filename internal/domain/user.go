// Package domain contains core domain types for the Halcyon portal.
package domain

// Identity is the signed-in user held by a portal session.
type Identity struct {
	UID         string `json:"uid"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName,omitempty"`
	Provider    string `json:"provider"` // "password" or the federated provider id

	IDToken      string `json:"-"`
	RefreshToken string `json:"-"`
}

// Label returns the name to greet the user with.
func (i *Identity) Label() string {
	if i == nil {
		return ""
	}
	if i.DisplayName != "" {
		return i.DisplayName
	}
	return i.Email
}

// UserRecord is the companion document written after sign-up.
type UserRecord struct {
	UID         string `firestore:"uid" json:"uid"`
	Email       string `firestore:"email" json:"email"`
	DisplayName string `firestore:"displayName" json:"displayName"`
	Provider    string `firestore:"provider" json:"provider"`
}
