package domain

// Authority is an operator allowed to decide and close rentals. Permission
// checks happen before the core is called; the id is opaque to it.
type Authority struct {
	ID   int64  `db:"id"`
	Name string `db:"name"`
	Hash string `db:"key_hash"`
}
