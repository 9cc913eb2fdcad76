package models

// UserRecord is the user service's view of an account. It is read during a
// single order creation and never stored.
type UserRecord struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Active    bool   `json:"active"`
}
